package updater

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FingerprintFileName is the store file inside the state directory.
const FingerprintFileName = "fingerprints.json"

// FingerprintStore persists the last downloaded content identity (the
// GitHub blob sha) per tracked artifact. Entries are created on the first
// successful download and overwritten by each later one.
type FingerprintStore struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
}

// OpenFingerprintStore loads the store at path. A missing or corrupt file
// yields an empty store; the file is rewritten on the next Set.
func OpenFingerprintStore(path string) *FingerprintStore {
	s := &FingerprintStore{path: path}
	s.Reload()
	return s
}

// Reload re-reads the file, discarding in-memory entries.
func (s *FingerprintStore) Reload() {
	entries := map[string]string{}
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
			entries = map[string]string{}
		}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Path returns the backing file path.
func (s *FingerprintStore) Path() string {
	return s.path
}

// Get returns the fingerprint for name and whether one is stored.
func (s *FingerprintStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.entries[name]
	return fp, ok
}

// All returns a copy of every stored fingerprint.
func (s *FingerprintStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entries)
}

// Set records a fingerprint and rewrites the store file. On a write error
// the in-memory entry is rolled back.
func (s *FingerprintStore) Set(name, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[name]
	s.entries[name] = fingerprint
	if err := s.saveLocked(); err != nil {
		if had {
			s.entries[name] = prev
		} else {
			delete(s.entries, name)
		}
		return err
	}
	return nil
}

func (s *FingerprintStore) saveLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fingerprints: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing fingerprints: %w", err)
	}
	return nil
}

// writeFileAtomic fully replaces path with data via a temp file and rename,
// so concurrent readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
