// Package store persists problem payloads and solver output for later
// inspection. Retention is best-effort: a failed write degrades to a
// logged warning and never fails the invocation that requested it.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store writes retention files under a session-scoped name.
type Store interface {
	// Put writes a file. The name must not contain path separators or "..".
	Put(ctx context.Context, name string, data []byte) error
}

// ValidateName rejects names that would escape the retention prefix.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty retention file name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid retention file name %q", name)
	}
	return nil
}

// FSStore writes retention files to a local directory.
//
// Writes go through a temp file in the same directory followed by a
// rename, so a concurrent reader never observes a half-written file.
type FSStore struct {
	dir string
}

// NewFSStore creates the directory if needed and returns a store over it.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create retention directory %q: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the retention directory.
func (s *FSStore) Dir() string { return s.dir }

// Put writes data to dir/name atomically.
func (s *FSStore) Put(_ context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %q: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename %q into place: %w", name, err)
	}
	return nil
}

// Verify FSStore implements Store.
var _ Store = (*FSStore)(nil)

// StubStore records Put calls for testing.
type StubStore struct {
	mu    sync.Mutex
	Files []StubRecord

	// Err, when set, is returned from every Put.
	Err error
}

// StubRecord is a recorded write.
type StubRecord struct {
	Name string
	Data []byte
}

// NewStubStore creates a new stub store.
func NewStubStore() *StubStore {
	return &StubStore{}
}

// Put implements Store by recording the call.
func (s *StubStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Files = append(s.Files, StubRecord{Name: name, Data: data})
	return nil
}

// Names returns the recorded file names in write order.
func (s *StubStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		names = append(names, f.Name)
	}
	return names
}

// Verify StubStore implements Store.
var _ Store = (*StubStore)(nil)
