// Package cache implements the two content-addressed stores on disk
// (build-cache/source and build-cache/build) plus the persistent
// dep-closure-hash → equivalence-hash map (equiv.sled in the original,
// here a bbolt database) that makes the two-level hash indirection stick
// across coordinator runs.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chordtoll/bootstrapper/internal/recipe"
	"github.com/google/renameio"
	bolt "go.etcd.io/bbolt"
)

var equivBucket = []byte("equiv")

// Store is the coordinator's view of the build cache: the on-disk
// content-addressed trees plus the persistent equivalence map.
type Store struct {
	root string
	db   *bolt.DB

	memoMu sync.Mutex
	memo   map[string]string // dep-closure hash -> equivalence hash, populated lazily
}

// Open opens (creating if absent) the cache rooted at root/build-cache and
// root/equiv.sled.
func Open(root string) (*Store, error) {
	dbPath := filepath.Join(root, "equiv.sled")
	db, err := bolt.Open(dbPath, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dbPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(equivBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init equiv bucket: %w", err)
	}
	return &Store{root: root, db: db, memo: make(map[string]string)}, nil
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// hashedPath returns build-cache/<kind>/<hash[0:2]>/<hash[2:4]>/<hash>.
func (s *Store) hashedPath(kind, hash string) string {
	return filepath.Join(s.root, "build-cache", kind, hash[0:2], hash[2:4], hash)
}

// SourcePath returns the on-disk path a fetched source blob is stored at,
// keyed by its SHA-256.
func (s *Store) SourcePath(sha string) string { return s.hashedPath("source", sha) }

// BuildPath returns the on-disk path a produced artefact tar is stored at,
// keyed by its equivalence hash.
func (s *Store) BuildPath(eq string) string { return s.hashedPath("build", eq) }

// HasArtefact reports whether an artefact with the given equivalence hash
// is already cached on disk.
func (s *Store) HasArtefact(eq string) bool {
	_, err := os.Stat(s.BuildPath(eq))
	return err == nil
}

// WriteArtefact persists a produced tar, keyed by its own content hash (the
// caller-supplied eq must equal SHA-256(tarBytes); internal/hash.Tar
// computes it).
func (s *Store) WriteArtefact(eq string, tarBytes []byte) error {
	path := s.BuildPath(eq)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cache: mkdir for artefact %s: %w", eq, err)
	}
	if err := renameio.WriteFile(path, tarBytes, 0644); err != nil {
		return fmt.Errorf("cache: write artefact %s: %w", eq, err)
	}
	return nil
}

// ReadArtefact reads back a cached artefact tar by equivalence hash.
func (s *Store) ReadArtefact(eq string) ([]byte, error) {
	b, err := os.ReadFile(s.BuildPath(eq))
	if err != nil {
		return nil, fmt.Errorf("cache: read artefact %s: %w", eq, err)
	}
	return b, nil
}

// EquivHash looks up the equivalence hash stored for a dep-closure hash. It
// first checks the in-memory memo (a pure optimisation, safe to drop) before
// falling back to bbolt.
func (s *Store) EquivHash(depClosureHash string) (string, bool, error) {
	s.memoMu.Lock()
	if v, ok := s.memo[depClosureHash]; ok {
		s.memoMu.Unlock()
		return v, true, nil
	}
	s.memoMu.Unlock()

	var val string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(equivBucket)
		v := b.Get([]byte(depClosureHash))
		if v != nil {
			val = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("cache: equiv lookup: %w", err)
	}
	if found {
		s.memoMu.Lock()
		s.memo[depClosureHash] = val
		s.memoMu.Unlock()
	}
	return val, found, nil
}

// LoadRecipe loads a recipe relative to the cache's root, satisfying
// hash.Resolver so DepClosure can recurse into a dependency's own deps.
func (s *Store) LoadRecipe(name, version string) (recipe.NamedRecipeVersion, error) {
	return recipe.LoadByTargetVersion(s.root, name, version)
}

// SetEquivHash upserts equiv[depClosureHash] = eqHash, the write performed
// once a build completes and its tar has been fully received and stored.
func (s *Store) SetEquivHash(depClosureHash, eqHash string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(equivBucket).Put([]byte(depClosureHash), []byte(eqHash))
	}); err != nil {
		return fmt.Errorf("cache: equiv upsert: %w", err)
	}
	s.memoMu.Lock()
	s.memo[depClosureHash] = eqHash
	s.memoMu.Unlock()
	return nil
}
