package keywrap

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoWrap = "channelkeys/wrap/v1"
	nonceSizeX   = chacha20poly1305.NonceSizeX
)

// WrapKey encrypts contentKey so that only the holder of recipientPublicID's
// private key (or the holder itself) can open it. The blob carries the
// holder's public id so the recipient can re-derive the shared secret.
func WrapKey(holder *Identity, recipientPublicID string, contentKey []byte) ([]byte, error) {
	if holder == nil {
		return nil, errors.New("keywrap: nil holder identity")
	}
	if len(contentKey) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	recipient, err := ParsePublicID(recipientPublicID)
	if err != nil {
		return nil, err
	}
	wrapKey, err := deriveWrapKey(holder.private, recipient, holder.public, recipient)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(wrapKey[:])
	if err != nil {
		return nil, err
	}
	env := Envelope{
		SchemaVersion: SchemaVersion,
		Algorithm:     AlgX25519XChaCha,
		Issuer:        append([]byte(nil), holder.public[:]...),
		Nonce:         make([]byte, nonceSizeX),
	}
	if err := readRandom(env.Nonce); err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, contentKey, env.associatedData())
	return env.Marshal()
}

// UnwrapKey opens a blob produced by WrapKey. Every failure collapses to
// ErrBadKey and no partial key is ever returned.
func UnwrapKey(recipient *Identity, blob []byte) ([]byte, error) {
	if recipient == nil {
		return nil, ErrBadKey
	}
	env, err := ParseEnvelope(blob)
	if err != nil {
		return nil, ErrBadKey
	}
	var issuer [32]byte
	copy(issuer[:], env.Issuer)
	wrapKey, err := deriveWrapKey(recipient.private, issuer, issuer, recipient.public)
	if err != nil {
		return nil, ErrBadKey
	}
	aead, err := chacha20poly1305.NewX(wrapKey[:])
	if err != nil {
		return nil, ErrBadKey
	}
	key, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.associatedData())
	if err != nil || len(key) != KeySize {
		return nil, ErrBadKey
	}
	return key, nil
}

// deriveWrapKey binds the HKDF output to both public ids, in wrap direction
// order, so a blob cannot be replayed as if it were issued by someone else.
func deriveWrapKey(private, peer, issuerPub, recipientPub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(private[:], peer[:])
	if err != nil {
		return out, err
	}
	info := make([]byte, 0, len(hkdfInfoWrap)+64)
	info = append(info, hkdfInfoWrap...)
	info = append(info, issuerPub[:]...)
	info = append(info, recipientPub[:]...)
	kdf := hkdf.New(sha256.New, shared, nil, info)
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return [32]byte{}, err
	}
	return out, nil
}
