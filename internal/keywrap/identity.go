package keywrap

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of content keys and X25519 scalars.
	KeySize = 32

	hkdfSaltInviteCode = "channelkeys/invite-code"
	inviteCodeBytes    = 18
)

// entropy feeds every key, nonce and invite code this package creates.
var entropy atomic.Pointer[io.Reader]

func init() {
	var r io.Reader = rand.Reader
	entropy.Store(&r)
}

// UseDeterministicRandom makes the package draw its randomness from r until
// the returned restore func runs. Only tests call it.
func UseDeterministicRandom(r io.Reader) (restore func()) {
	prev := entropy.Swap(&r)
	return func() { entropy.Store(prev) }
}

func readRandom(b []byte) error {
	_, err := io.ReadFull(*entropy.Load(), b)
	return err
}

// Identity is an actor's X25519 key pair. The public half, hex encoded, is the
// actor's identity in every persisted row. Identities are supplied by callers
// at call time and never persisted by the engine.
type Identity struct {
	private [32]byte
	public  [32]byte
}

// GenerateIdentity creates a fresh X25519 identity from the package randomness
// source.
func GenerateIdentity() (*Identity, error) {
	var priv [32]byte
	if err := readRandom(priv[:]); err != nil {
		return nil, err
	}
	return identityFromScalar(priv)
}

// IdentityFromPrivate rebuilds an identity from its 32-byte private scalar.
func IdentityFromPrivate(private []byte) (*Identity, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("keywrap: private key length %d, want %d", len(private), KeySize)
	}
	var priv [32]byte
	copy(priv[:], private)
	return identityFromScalar(priv)
}

func identityFromScalar(priv [32]byte) (*Identity, error) {
	clamp(&priv)
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	id := &Identity{private: priv}
	copy(id.public[:], pub)
	return id, nil
}

// PublicID returns the hex encoded public key.
func (i *Identity) PublicID() string {
	if i == nil {
		return ""
	}
	return hex.EncodeToString(i.public[:])
}

// PrivateBytes returns a copy of the private scalar. Only identity files on
// the client side should ever call this.
func (i *Identity) PrivateBytes() []byte {
	if i == nil {
		return nil
	}
	return append([]byte(nil), i.private[:]...)
}

// ParsePublicID decodes a hex encoded X25519 public key.
func ParsePublicID(id string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(id))
	if err != nil || len(raw) != KeySize {
		return out, fmt.Errorf("%w: %q", ErrInvalidPublicID, id)
	}
	copy(out[:], raw)
	return out, nil
}

// ValidPublicID reports whether id parses as a public key.
func ValidPublicID(id string) bool {
	_, err := ParsePublicID(id)
	return err == nil
}

// NewContentKey returns a fresh symmetric content key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if err := readRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewInviteCode returns a random URL-safe invite code.
func NewInviteCode() (string, error) {
	raw := make([]byte, inviteCodeBytes)
	if err := readRandom(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashCode is the lookup hash stored in place of an invite code.
func HashCode(rawCode string) string {
	sum := sha256.Sum256([]byte(hkdfSaltInviteCode + ":" + strings.TrimSpace(rawCode)))
	return hex.EncodeToString(sum[:])
}

// CodeIdentity derives the identity an invite code stands for. Anyone holding
// the raw code can rebuild it; the server only ever sees its public half
// inside the wrapped blob.
func CodeIdentity(rawCode string) (*Identity, error) {
	code := strings.TrimSpace(rawCode)
	if code == "" {
		return nil, errors.New("keywrap: empty invite code")
	}
	kdf := hkdf.New(sha256.New, []byte(code), []byte(hkdfSaltInviteCode), []byte("identity"))
	var priv [32]byte
	if _, err := io.ReadFull(kdf, priv[:]); err != nil {
		return nil, err
	}
	return identityFromScalar(priv)
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
