package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskora/taskora-api/internal/models"
)

// Session is the durable client-side session state. It is owned exclusively
// by the Client; callers never read or write it directly.
type Session struct {
	AccessToken      string              `json:"access_credential"`
	RefreshToken     string              `json:"refresh_credential"`
	Account          *models.AccountInfo `json:"account_summary,omitempty"`
	AccessExpiryUnix int64               `json:"access_expiry_epoch_ms"`
}

// AccessExpiry returns the declared expiry of the access credential.
func (s *Session) AccessExpiry() time.Time {
	return time.UnixMilli(s.AccessExpiryUnix)
}

// TokenStore persists session state so a process restart can rehydrate the
// session without re-authenticating.
type TokenStore interface {
	Load() (*Session, error)
	Save(session *Session) error
	Clear() error
}

// FileStore keeps the session as a JSON file with owner-only permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted session. A missing file yields (nil, nil).
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// Save writes the session to disk.
func (f *FileStore) Save(session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Clearing an absent session is fine.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory TokenStore for tests.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored session, if any.
func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	clone := *m.session
	return &clone, nil
}

// Save stores a copy of the session.
func (m *MemoryStore) Save(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.session = &clone
	return nil
}

// Clear drops the stored session.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
