// Package credstore keeps the session credential on the client side
// between workflow steps.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is a stored credential. TTL is advisory; nothing enforces it.
type Entry struct {
	Token    string    `json:"token"`
	TTL      int       `json:"ttl"`
	IssuedAt time.Time `json:"issued_at"`
}

// Expired reports whether the advertised lifetime has passed at now.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.IssuedAt.Add(time.Duration(e.TTL) * time.Second))
}

// Store holds at most one credential.
type Store interface {
	// Get returns the stored credential, or nil when there is none.
	Get() (*Entry, error)
	Set(e Entry) error
	Clear() error
}

// Present reports whether s holds a non-empty token. Read errors count as
// absent.
func Present(s Store) bool {
	e, err := s.Get()
	return err == nil && e != nil && e.Token != ""
}

// FileStore implements Store using a local JSON file readable only by the
// current user.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultPath is the credential file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "listingmock", "credential.json"), nil
}

// credentialFile is the on-disk JSON structure.
type credentialFile struct {
	Version    string `json:"version"`
	Credential Entry  `json:"credential"`
}

// Get reads the credential file. A missing file means no credential.
func (s *FileStore) Get() (*Entry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return &cf.Credential, nil
}

// Set replaces the credential file atomically.
func (s *FileStore) Set(e Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(credentialFile{Version: "1.0", Credential: e}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".credential-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

// Clear removes the credential file.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.Mutex
	entry *Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return nil, nil
	}
	e := *s.entry
	return &e, nil
}

func (s *MemoryStore) Set(e Entry) error {
	s.mu.Lock()
	s.entry = &e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()
	return nil
}
