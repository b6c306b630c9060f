package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// ErrNoSavedSession is returned by Store.Load when nothing is persisted.
var ErrNoSavedSession = errors.New("no saved session")

// Store persists the durable session id across restarts so a returning
// visitor resumes the same conversation.
type Store interface {
	Load() (*SavedSession, error)
	Save(saved *SavedSession) error
	Clear() error
}

// SavedSession is the persisted resume state.
type SavedSession struct {
	SessionID  string `json:"session_id"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
}

// FileStore persists the session id as a JSON file. The write is atomic
// via rename so a crash never leaves a truncated file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSavedSession
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var saved SavedSession
	if err := util.UnmarshalJSON(data, &saved); err != nil {
		// A corrupt file is treated as absent; the visitor starts fresh.
		return nil, ErrNoSavedSession
	}
	if saved.SessionID == "" {
		return nil, ErrNoSavedSession
	}
	return &saved, nil
}

func (s *FileStore) Save(saved *SavedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := util.MarshalJSON(saved)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and embedded use.
type MemoryStore struct {
	mu    sync.Mutex
	saved *SavedSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return nil, ErrNoSavedSession
	}
	copied := *s.saved
	return &copied, nil
}

func (s *MemoryStore) Save(saved *SavedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *saved
	s.saved = &copied
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	return nil
}
