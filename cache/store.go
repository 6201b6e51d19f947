// Package cache stores checked out dependencies on disk, one directory per cache key.
//
// Layout under the cache root:
//
//	<root>/<name>-<hash>/checkout    the working tree handed to the host application
//	<root>/<name>-<hash>/entry.json  the entry record (key, revision, source spec)
//	<root>/<name>-<hash>/lock        advisory lock held while the entry is being updated
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

const (
	checkoutDirName = "checkout"
	entryFileName   = "entry.json"
	lockFileName    = "lock"

	// DefaultLockRetryDelay is how often a contended lock is retried.
	DefaultLockRetryDelay = 100 * time.Millisecond
)

// ErrCorruptEntry is returned by Lookup when an entry record exists but cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key identifies one cache entry.
type Key string

// KeyFor derives the cache key of a spec from its identity and branch-or-revision target.
func KeyFor(spec types.DependencySpec) Key {
	return Key(spec.Key())
}

// Entry is the persisted record of one resolved dependency.
type Entry struct {
	Key          Key                  `json:"key"`
	LocalPath    string               `json:"localPath"`
	LastRevision string               `json:"lastRevision"`
	Source       types.DependencySpec `json:"source"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// Store is the filesystem backed cache. It is safe for concurrent use by
// goroutines working on different keys; the per-key lock serializes processes.
type Store struct {
	root string
}

// Open creates the cache root if needed and returns a store rooted there.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// DirName returns the directory name for a key. It is stable across runs and
// distinct keys never share a directory.
func DirName(spec types.DependencySpec) string {
	sum := sha256.Sum256([]byte(KeyFor(spec)))
	name := unsafeNameChars.ReplaceAllString(spec.Name(), "_")
	return fmt.Sprintf("%s-%s", name, hex.EncodeToString(sum[:])[:16])
}

// Dir returns the entry directory for spec.
func (s *Store) Dir(spec types.DependencySpec) string {
	return filepath.Join(s.root, DirName(spec))
}

// CheckoutDir returns the working tree directory for spec.
func (s *Store) CheckoutDir(spec types.DependencySpec) string {
	return filepath.Join(s.Dir(spec), checkoutDirName)
}

func (s *Store) entryPath(spec types.DependencySpec) string {
	return filepath.Join(s.Dir(spec), entryFileName)
}

// Lookup returns the entry for spec, or nil when none has been recorded.
func (s *Store) Lookup(spec types.DependencySpec) (*Entry, error) {
	data, err := os.ReadFile(s.entryPath(spec))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry for %s: %w", spec, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrCorruptEntry, spec, err)
	}
	if entry.Key != KeyFor(spec) {
		return nil, fmt.Errorf("%w for %s: recorded key %q", ErrCorruptEntry, spec, entry.Key)
	}
	return &entry, nil
}

// Update records revision as the current state of spec's checkout. The record is
// replaced atomically so a crash never leaves a half written entry.
func (s *Store) Update(spec types.DependencySpec, revision string) (*Entry, error) {
	entry := &Entry{
		Key:          KeyFor(spec),
		LocalPath:    s.CheckoutDir(spec),
		LastRevision: revision,
		Source:       spec,
		UpdatedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry for %s: %w", spec, err)
	}

	dir := s.Dir(spec)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, entryFileName+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to write cache entry for %s: %w", spec, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write cache entry for %s: %w", spec, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write cache entry for %s: %w", spec, err)
	}
	if err := os.Rename(tmp.Name(), s.entryPath(spec)); err != nil {
		return nil, fmt.Errorf("failed to commit cache entry for %s: %w", spec, err)
	}
	return entry, nil
}

// Reset removes the checkout and the entry record for spec, keeping the lock file.
func (s *Store) Reset(spec types.DependencySpec) error {
	if err := os.Remove(s.entryPath(spec)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry for %s: %w", spec, err)
	}
	if err := os.RemoveAll(s.CheckoutDir(spec)); err != nil {
		return fmt.Errorf("failed to remove checkout for %s: %w", spec, err)
	}
	return nil
}

// Lock takes the per-key advisory lock, waiting until ctx is done. The returned
// function releases it.
func (s *Store) Lock(ctx context.Context, spec types.DependencySpec) (func() error, error) {
	dir := s.Dir(spec)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLockContext(ctx, DefaultLockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache entry for %s: %w", spec, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock cache entry for %s", spec)
	}
	return fl.Unlock, nil
}

// Entries lists every readable entry under the cache root, ordered by key.
// Directories without a valid record are skipped.
func (s *Store) Entries() ([]*Entry, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache root %s: %w", s.root, err)
	}
	var entries []*Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, d.Name(), entryFileName))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
