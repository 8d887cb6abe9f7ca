package keywrap

import (
	"bytes"
	"errors"
	"testing"
)

func deterministicReader(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

func mustIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	return id
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	alice := mustIdentity(t)
	bob := mustIdentity(t)
	key, err := NewContentKey()
	if err != nil {
		t.Fatalf("NewContentKey: %v", err)
	}

	blob, err := WrapKey(alice, bob.PublicID(), key)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	got, err := UnwrapKey(bob, blob)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("unwrapped key mismatch")
	}

	env, err := ParseEnvelope(blob)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.IssuerID() != alice.PublicID() {
		t.Fatalf("issuer %s, want %s", env.IssuerID(), alice.PublicID())
	}
}

func TestSelfWrap(t *testing.T) {
	alice := mustIdentity(t)
	key, _ := NewContentKey()
	blob, err := WrapKey(alice, alice.PublicID(), key)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	got, err := UnwrapKey(alice, blob)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("self-wrapped key mismatch")
	}
}

func TestUnwrapFailsClosed(t *testing.T) {
	alice := mustIdentity(t)
	bob := mustIdentity(t)
	mallory := mustIdentity(t)
	key, _ := NewContentKey()
	blob, err := WrapKey(alice, bob.PublicID(), key)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	if got, err := UnwrapKey(mallory, blob); !errors.Is(err, ErrBadKey) || got != nil {
		t.Fatalf("wrong recipient: got %v, %v", got, err)
	}

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0x01
	if got, err := UnwrapKey(bob, tampered); !errors.Is(err, ErrBadKey) || got != nil {
		t.Fatalf("tampered blob: got %v, %v", got, err)
	}

	if _, err := UnwrapKey(bob, []byte("not cbor")); !errors.Is(err, ErrBadKey) {
		t.Fatalf("garbage blob: %v", err)
	}

	env, _ := ParseEnvelope(blob)
	env.SchemaVersion = 2
	future, _ := env.Marshal()
	if _, err := UnwrapKey(bob, future); !errors.Is(err, ErrBadKey) {
		t.Fatalf("future schema: %v", err)
	}

	env.SchemaVersion = SchemaVersion
	env.Algorithm = "rsa-oaep"
	other, _ := env.Marshal()
	if _, err := UnwrapKey(bob, other); !errors.Is(err, ErrBadKey) {
		t.Fatalf("unknown algorithm: %v", err)
	}
}

func TestWrapRejectsBadInput(t *testing.T) {
	alice := mustIdentity(t)
	key, _ := NewContentKey()
	if _, err := WrapKey(alice, "zz", key); !errors.Is(err, ErrInvalidPublicID) {
		t.Fatalf("expected ErrInvalidPublicID, got %v", err)
	}
	if _, err := WrapKey(alice, alice.PublicID(), key[:16]); !errors.Is(err, ErrInvalidKeyLength) {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestBodyRoundTrip(t *testing.T) {
	key, _ := NewContentKey()
	for _, msg := range [][]byte{[]byte("hello channel 42"), {}, bytes.Repeat([]byte{0xAB}, 4096)} {
		ct, err := EncryptBody(key, msg)
		if err != nil {
			t.Fatalf("EncryptBody: %v", err)
		}
		pt, err := DecryptBody(key, ct)
		if err != nil {
			t.Fatalf("DecryptBody: %v", err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("round trip mismatch for %d bytes", len(msg))
		}
	}
}

func TestBodyNonceFresh(t *testing.T) {
	key, _ := NewContentKey()
	a, _ := EncryptBody(key, []byte("same"))
	b, _ := EncryptBody(key, []byte("same"))
	if bytes.Equal(a[:nonceSizeX], b[:nonceSizeX]) {
		t.Fatalf("nonce reused across calls")
	}
}

func TestDecryptBodyFailures(t *testing.T) {
	key, _ := NewContentKey()
	other, _ := NewContentKey()
	ct, _ := EncryptBody(key, []byte("secret"))

	if _, err := DecryptBody(other, ct); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("wrong key: %v", err)
	}
	if _, err := DecryptBody(key, ct[:10]); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("short ciphertext: %v", err)
	}
	if _, err := DecryptBody(key[:5], ct); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("short key: %v", err)
	}
}

func TestDeterministicWrap(t *testing.T) {
	wrapOnce := func() []byte {
		restore := UseDeterministicRandom(deterministicReader(4096))
		defer restore()
		alice := mustIdentity(t)
		bob := mustIdentity(t)
		key, err := NewContentKey()
		if err != nil {
			t.Fatalf("NewContentKey: %v", err)
		}
		blob, err := WrapKey(alice, bob.PublicID(), key)
		if err != nil {
			t.Fatalf("WrapKey: %v", err)
		}
		return blob
	}
	if !bytes.Equal(wrapOnce(), wrapOnce()) {
		t.Fatalf("envelope encoding is not deterministic")
	}
}

func TestCodeIdentity(t *testing.T) {
	code, err := NewInviteCode()
	if err != nil {
		t.Fatalf("NewInviteCode: %v", err)
	}
	a, err := CodeIdentity(code)
	if err != nil {
		t.Fatalf("CodeIdentity: %v", err)
	}
	b, _ := CodeIdentity(" " + code + "\n")
	if a.PublicID() != b.PublicID() {
		t.Fatalf("code identity not stable under whitespace")
	}
	if HashCode(code) == HashCode(code+"x") {
		t.Fatalf("hash collision on distinct codes")
	}
	if _, err := CodeIdentity(""); err == nil {
		t.Fatalf("expected error for empty code")
	}

	issuer := mustIdentity(t)
	key, _ := NewContentKey()
	blob, err := WrapKey(issuer, a.PublicID(), key)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	got, err := UnwrapKey(b, blob)
	if err != nil || !bytes.Equal(got, key) {
		t.Fatalf("code identity could not open invite blob: %v", err)
	}
}

func TestIdentityFromPrivate(t *testing.T) {
	alice := mustIdentity(t)
	restored, err := IdentityFromPrivate(alice.PrivateBytes())
	if err != nil {
		t.Fatalf("IdentityFromPrivate: %v", err)
	}
	if restored.PublicID() != alice.PublicID() {
		t.Fatalf("restored identity differs")
	}
	if _, err := IdentityFromPrivate([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}
