package keywrap

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptBody seals plaintext under a content key. The output is the fresh
// nonce followed by the AEAD ciphertext.
func EncryptBody(contentKey, plaintext []byte) ([]byte, error) {
	if len(contentKey) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, nonceSizeX, nonceSizeX+len(plaintext)+aead.Overhead())
	if err := readRandom(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:nonceSizeX], plaintext, nil), nil
}

// DecryptBody opens a ciphertext produced by EncryptBody.
func DecryptBody(contentKey, ciphertext []byte) ([]byte, error) {
	if len(contentKey) != KeySize {
		return nil, ErrBadCiphertext
	}
	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	if len(ciphertext) < nonceSizeX+aead.Overhead() {
		return nil, ErrBadCiphertext
	}
	plaintext, err := aead.Open(nil, ciphertext[:nonceSizeX], ciphertext[nonceSizeX:], nil)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
