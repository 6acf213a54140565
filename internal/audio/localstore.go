package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore is the on-disk fragment store, the first resolution tier.
// Fragments live under <root>/<kind>/<key>.mp3. It is safe for concurrent
// use: reads are plain file reads and writes go through a temp file plus
// rename so a reader never observes a partially written fragment.
type LocalStore struct {
	root string
}

// NewLocalStore creates the store rooted at dir, creating the per-kind
// subdirectories up front.
func NewLocalStore(dir string) (*LocalStore, error) {
	for _, kind := range []Kind{KindSegment, KindClientName, KindAgentName} {
		if err := os.MkdirAll(filepath.Join(dir, string(kind)), 0750); err != nil {
			return nil, fmt.Errorf("creating local store directory for %s: %w", kind, err)
		}
	}
	return &LocalStore{root: dir}, nil
}

// Path returns the on-disk location for (kind, key). The file may not exist.
func (s *LocalStore) Path(kind Kind, key string) string {
	return filepath.Join(s.root, string(kind), key+".mp3")
}

// Get returns the fragment bytes, or an error satisfying os.IsNotExist
// when the fragment is not stored locally.
func (s *LocalStore) Get(kind Kind, key string) ([]byte, error) {
	return os.ReadFile(s.Path(kind, key))
}

// Has reports whether the fragment exists locally.
func (s *LocalStore) Has(kind Kind, key string) bool {
	_, err := os.Stat(s.Path(kind, key))
	return err == nil
}

// Put writes the fragment atomically.
func (s *LocalStore) Put(kind Kind, key string, data []byte) error {
	dest := s.Path(kind, key)
	tmp := dest + "." + uuid.NewString()[:8] + ".tmp"

	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("writing fragment %s/%s: %w", kind, key, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing fragment %s/%s: %w", kind, key, err)
	}
	return nil
}

// Delete removes the fragment. Missing fragments are not an error.
func (s *LocalStore) Delete(kind Kind, key string) error {
	err := os.Remove(s.Path(kind, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting fragment %s/%s: %w", kind, key, err)
	}
	return nil
}

// List returns the keys stored under a kind.
func (s *LocalStore) List(kind Kind) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("listing %s fragments: %w", kind, err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".mp3" {
			continue
		}
		keys = append(keys, name[:len(name)-len(".mp3")])
	}
	return keys, nil
}
