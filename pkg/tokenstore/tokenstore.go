// Package tokenstore persists the admin session token across console
// restarts. The token is the only durable client-side state; the API key is
// deliberately never written here (it is re-derived from server settings on
// every bootstrap).
package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

// Store persists a single admin token
type Store interface {
	// Load returns the stored token, or "" when none is stored
	Load() (string, error)

	// Save durably stores the token
	Save(token string) error

	// Clear removes the stored token
	Clear() error
}

// FileStore stores the token in a file under the XDG state directory
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store under the XDG state directory
// (e.g. ~/.local/state/graphxr-console/admin_token on Linux).
func NewFileStore() (*FileStore, error) {
	path, err := xdg.StateFile("graphxr-console/admin_token")
	if err != nil {
		return nil, fmt.Errorf("resolving state file: %w", err)
	}
	return &FileStore{path: path}, nil
}

// NewFileStoreAt creates a file-backed store at an explicit path
func NewFileStoreAt(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored token, or "" when none is stored
func (s *FileStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save durably stores the token via write-to-temp-then-rename
func (s *FileStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".admin_token-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing token: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming token file: %w", err)
	}
	return nil
}

// Clear removes the stored token
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored token, or "" when none is stored
func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Save stores the token
func (s *MemoryStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear removes the stored token
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
