package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TenantsClaim lists the tenants an operator token may act on. "*" grants
// every tenant.
const TenantsClaim = "tenants"

// Signer issues operator tokens, either HS256 with a shared secret or EdDSA
// with an Ed25519 key published through a JWKS.
type Signer struct {
	method jwt.SigningMethod
	key    any
	public ed25519.PublicKey
	KeyID  string
	Issuer string
}

func NewHS256(secret, iss string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("hs256 secret must be at least 16 bytes")
	}
	return &Signer{method: jwt.SigningMethodHS256, key: []byte(secret), Issuer: iss}, nil
}

// NewEd25519FromBase64 creates a signer from base64-encoded ed25519 private
// key bytes. An empty privB64 generates an ephemeral key.
func NewEd25519FromBase64(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		var err error
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, err
		}
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{method: jwt.SigningMethodEdDSA, key: priv, public: pub, KeyID: kid, Issuer: iss}, nil
}

// SignOperator issues a token for subject sub scoped to tenants.
func (s *Signer) SignOperator(sub string, tenants []string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", errors.New("subject is required")
	}
	if len(tenants) == 0 {
		return "", errors.New("at least one tenant is required")
	}
	now := time.Now()
	m := jwt.MapClaims{
		"iss":        s.Issuer,
		"sub":        sub,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
		TenantsClaim: tenants,
	}
	t := jwt.NewWithClaims(s.method, m)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.key)
}

// PublicJWK renders the Ed25519 public key as a JWK. It returns nil for
// HS256 signers.
func (s *Signer) PublicJWK() map[string]any {
	if s.public == nil {
		return nil
	}
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}
