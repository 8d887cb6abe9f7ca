package keywrap

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// SchemaVersion is the only envelope layout this package writes or reads.
	SchemaVersion = 1

	// AlgX25519XChaCha names the wrap construction: X25519 agreement,
	// HKDF-SHA256, XChaCha20-Poly1305.
	AlgX25519XChaCha = "x25519-hkdf-sha256-xchacha20poly1305"
)

// Envelope is the persisted form of a wrapped key. Unknown schema versions or
// algorithms are rejected rather than guessed at.
type Envelope struct {
	SchemaVersion uint8  `cbor:"1,keyasint"`
	Algorithm     string `cbor:"2,keyasint"`
	Issuer        []byte `cbor:"3,keyasint"`
	Nonce         []byte `cbor:"4,keyasint"`
	Ciphertext    []byte `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keywrap: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("keywrap: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes the envelope deterministically.
func (e Envelope) Marshal() ([]byte, error) {
	return encMode.Marshal(e)
}

// ParseEnvelope decodes and validates a blob without opening it.
func ParseEnvelope(blob []byte) (Envelope, error) {
	var env Envelope
	if len(blob) == 0 {
		return env, fmt.Errorf("keywrap: empty envelope")
	}
	if err := decMode.Unmarshal(blob, &env); err != nil {
		return env, fmt.Errorf("keywrap: decode envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return env, fmt.Errorf("keywrap: unsupported envelope schema %d", env.SchemaVersion)
	}
	if env.Algorithm != AlgX25519XChaCha {
		return env, fmt.Errorf("keywrap: unsupported algorithm %q", env.Algorithm)
	}
	if len(env.Issuer) != KeySize {
		return env, fmt.Errorf("keywrap: issuer length %d", len(env.Issuer))
	}
	if len(env.Nonce) != nonceSizeX {
		return env, fmt.Errorf("keywrap: nonce length %d", len(env.Nonce))
	}
	return env, nil
}

// IssuerID returns the hex public id of the identity that wrapped the blob.
func (e Envelope) IssuerID() string {
	var pub [32]byte
	copy(pub[:], e.Issuer)
	return (&Identity{public: pub}).PublicID()
}

func (e Envelope) associatedData() []byte {
	ad := make([]byte, 0, 2+len(e.Algorithm)+len(e.Issuer)+len(e.Nonce))
	ad = append(ad, e.SchemaVersion, byte(len(e.Algorithm)))
	ad = append(ad, e.Algorithm...)
	ad = append(ad, e.Issuer...)
	ad = append(ad, e.Nonce...)
	return ad
}
