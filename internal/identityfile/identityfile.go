// Package identityfile keeps a keywrap identity on disk sealed under a
// passphrase with age's scrypt recipient, in ASCII armor.
package identityfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"channelkeys/internal/keywrap"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// DefaultWorkFactor is the scrypt log2(N) used when sealing.
const DefaultWorkFactor = 18

var ErrNoPassphrase = errors.New("identityfile: passphrase is required")

// Seal encrypts the identity's private key under passphrase.
func Seal(id *keywrap.Identity, passphrase string, workFactor int) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("identityfile: scrypt recipient: %w", err)
	}
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}
	recipient.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return nil, fmt.Errorf("identityfile: encrypt: %w", err)
	}
	if _, err := w.Write(id.PrivateBytes()); err != nil {
		return nil, fmt.Errorf("identityfile: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("identityfile: finalize: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("identityfile: armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a sealed identity.
func Open(sealed []byte, passphrase string) (*keywrap.Identity, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("identityfile: scrypt identity: %w", err)
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), identity)
	if err != nil {
		return nil, fmt.Errorf("identityfile: decrypt: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("identityfile: read: %w", err)
	}
	return keywrap.IdentityFromPrivate(raw)
}

// Save writes the sealed identity to path with owner-only permissions. It
// refuses to overwrite an existing file.
func Save(path string, id *keywrap.Identity, passphrase string, workFactor int) error {
	sealed, err := Seal(id, passphrase, workFactor)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Load(path, passphrase string) (*keywrap.Identity, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(sealed, passphrase)
}
