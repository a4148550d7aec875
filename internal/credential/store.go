package credential

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Store persists the current credential to a durable slot. Implementations
// never surface storage failures to callers: the in-memory credential held by
// the connection manager stays authoritative for the process lifetime, and
// I/O problems are logged instead.
type Store interface {
	// Load returns the persisted credential, or false when the slot is empty,
	// malformed, or already expired. Invalid slots are erased as a side effect.
	Load() (Credential, bool)
	Save(Credential)
	Clear()
}

// DefaultFilePath returns the well-known session file location.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "evdash", "session.json")
	}
	return filepath.Join(home, ".config", "evdash", "session.json")
}

// FileStore keeps the credential as a single JSON record on disk.
type FileStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewFileStore builds a file-backed store. An empty path selects the default
// location under the user config directory.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if path == "" {
		path = DefaultFilePath()
	}
	return &FileStore{path: path, logger: logger, now: time.Now}
}

// Load reads and validates the persisted credential.
func (s *FileStore) Load() (Credential, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read session file", zap.String("path", s.path), zap.Error(err))
		}
		return Credential{}, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("discarding malformed session file", zap.String("path", s.path), zap.Error(err))
		s.Clear()
		return Credential{}, false
	}

	cred, err := rec.credential()
	if err != nil {
		s.logger.Warn("discarding invalid session record", zap.Error(err))
		s.Clear()
		return Credential{}, false
	}

	if !cred.Valid(s.now()) {
		s.logger.Info("discarding expired session record", zap.Time("expires_at", cred.ExpiresAt))
		s.Clear()
		return Credential{}, false
	}

	return cred, true
}

// Save writes the credential record with owner-only permissions.
func (s *FileStore) Save(cred Credential) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		s.logger.Warn("failed to create session directory", zap.String("path", s.path), zap.Error(err))
		return
	}

	data, err := json.Marshal(cred)
	if err != nil {
		s.logger.Warn("failed to encode session record", zap.Error(err))
		return
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		s.logger.Warn("failed to persist session", zap.String("path", s.path), zap.Error(err))
	}
}

// Clear removes the persisted record.
func (s *FileStore) Clear() {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to clear session file", zap.String("path", s.path), zap.Error(err))
	}
}
