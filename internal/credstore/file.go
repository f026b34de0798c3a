package credstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// credsFileName is the blob file inside each scope directory.
const credsFileName = "creds.json"

// FileStore keeps each credential scope as a directory under a root path:
//
//	<root>/<scope>/creds.json
//
// Writes are atomic (temp file + rename) so a crash mid-save never leaves a
// torn blob behind.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates a file-backed store rooted at the given directory,
// creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// scopePath validates the scope and returns its directory. Scopes become
// path components, so anything that could escape the root is rejected.
func (s *FileStore) scopePath(scope string) (string, error) {
	if scope == "" || strings.ContainsAny(scope, "/\\") || strings.Contains(scope, "..") {
		return "", fmt.Errorf("invalid scope %q", scope)
	}
	return filepath.Join(s.root, scope), nil
}

// Load returns the credential blob for a scope, or (nil, nil) when absent.
func (s *FileStore) Load(scope string) ([]byte, error) {
	dir, err := s.scopePath(scope)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := os.ReadFile(filepath.Join(dir, credsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return blob, nil
}

// Save persists the credential blob for a scope atomically.
func (s *FileStore) Save(scope string, blob []byte) error {
	dir, err := s.scopePath(scope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create scope directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".creds-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod credentials: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, credsFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

// Delete removes a scope and everything in it. Deleting a missing scope is
// a no-op.
func (s *FileStore) Delete(scope string) error {
	dir, err := s.scopePath(scope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete scope: %w", err)
	}
	return nil
}
