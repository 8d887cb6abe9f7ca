package identityfile

import (
	"bytes"
	"path/filepath"
	"testing"

	"channelkeys/internal/keywrap"
)

func TestSaveLoad(t *testing.T) {
	id, err := keywrap.GenerateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "me.age")

	if err := Save(path, id, "correct horse", 10); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Save(path, id, "correct horse", 10); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	got, err := Load(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PublicID() != id.PublicID() || !bytes.Equal(got.PrivateBytes(), id.PrivateBytes()) {
		t.Fatalf("loaded a different identity")
	}
	if _, err := Load(path, "wrong"); err == nil {
		t.Fatalf("wrong passphrase accepted")
	}
	if _, err := Seal(id, "", 10); err != ErrNoPassphrase {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}
