// Package state persists reading progress between sessions.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateFileName = "reading_progress.json"
	hashBytes     = 8192 // First 8KB for content hash
)

// Progress is the saved position in one book.
type Progress struct {
	PageLabel string    `json:"page_label"`
	Zoom      float64   `json:"zoom"`
	ViewMode  string    `json:"view_mode,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps progress per book id.
type Store interface {
	// Get returns nil without error when nothing was saved.
	Get(ctx context.Context, bookID string) (*Progress, error)
	Save(ctx context.Context, bookID string, p Progress) error
	Clear(ctx context.Context, bookID string) error
	Close() error
}

// JSONStore manages progress in a single JSON file
type JSONStore struct {
	path string
	data map[string]Progress
	mu   sync.RWMutex
}

// NewJSONStore creates or loads state from path, or from
// XDG_STATE_HOME/pagebook/ when path is empty.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		path = filepath.Join(getStateDir(), stateFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	store := &JSONStore{
		path: path,
		data: make(map[string]Progress),
	}
	if err := store.load(); err != nil {
		// Non-fatal - start with empty state
		store.data = make(map[string]Progress)
	}
	return store, nil
}

// getStateDir returns XDG_STATE_HOME/pagebook or ~/.local/state/pagebook
func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "pagebook")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "pagebook")
}

// ComputeHash generates content hash for file identity
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	hash := sha256.Sum256(buf[:n])
	return hex.EncodeToString(hash[:16]), nil // First 16 bytes = 32 hex chars
}

// Get returns saved progress for the book
func (s *JSONStore) Get(_ context.Context, bookID string) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.data[bookID]; ok {
		return &p, nil
	}
	return nil, nil
}

// Save stores progress for the book
func (s *JSONStore) Save(_ context.Context, bookID string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.data[bookID] = p
	return s.save()
}

// Clear removes saved progress for the book
func (s *JSONStore) Clear(_ context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, bookID)
	return s.save()
}

// Close is a no-op, every change is written immediately.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.data)
}

func (s *JSONStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	// replace atomically
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
