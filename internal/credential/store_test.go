package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	return NewFileStore(path, zap.NewNop())
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	saved := Credential{
		Token:     "tok-123",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Username:  "demo",
	}
	store.Save(saved)

	info, err := os.Stat(store.path)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("expected owner-only permissions, got %v", perm)
	}

	loaded, ok := store.Load()
	if !ok {
		t.Fatal("expected credential to load")
	}
	if loaded.Token != saved.Token || loaded.Username != saved.Username {
		t.Fatalf("loaded %+v, want %+v", loaded, saved)
	}
	if !loaded.ExpiresAt.Equal(saved.ExpiresAt) {
		t.Fatalf("loaded expiry %v, want %v", loaded.ExpiresAt, saved.ExpiresAt)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := newTestStore(t)
	if _, ok := store.Load(); ok {
		t.Fatal("expected empty slot")
	}
}

func TestFileStoreDiscardsExpired(t *testing.T) {
	store := newTestStore(t)
	store.Save(Credential{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)})

	if _, ok := store.Load(); ok {
		t.Fatal("expected expired credential to be rejected")
	}
	if _, err := os.Stat(store.path); !os.IsNotExist(err) {
		t.Fatal("expected expired record to be erased")
	}
}

func TestFileStoreDiscardsMalformed(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Load(); ok {
		t.Fatal("expected malformed record to be rejected")
	}
	if _, err := os.Stat(store.path); !os.IsNotExist(err) {
		t.Fatal("expected malformed record to be erased")
	}
}

func TestFileStoreAcceptsUnixSecondsExpiry(t *testing.T) {
	store := newTestStore(t)
	expiry := time.Now().Add(time.Hour).Unix()
	data, _ := json.Marshal(map[string]any{"token": "tok", "expiresAt": expiry})
	if err := os.WriteFile(store.path, data, 0600); err != nil {
		t.Fatal(err)
	}

	cred, ok := store.Load()
	if !ok {
		t.Fatal("expected unix-seconds record to load")
	}
	if cred.ExpiresAt.Unix() != expiry {
		t.Fatalf("expiry %v, want unix %d", cred.ExpiresAt, expiry)
	}
}

func TestFileStoreClearIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	store.Save(Credential{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})
	store.Clear()
	store.Clear()
	if _, ok := store.Load(); ok {
		t.Fatal("expected empty slot after clear")
	}
}
