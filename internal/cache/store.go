package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/othala/internal/models"
)

// Store owns the in-memory snapshot and its persisted form. A single
// RWMutex is the mutual-exclusion gate required around the cache file:
// saves hold the write lock for the whole marshal-and-rename, so a reader
// or writer arriving mid-save waits for it to finish. Reads hand out deep
// copies.
type Store struct {
	path   string // cache file location, absolute
	vault  string // vault identity the snapshot must carry
	logger *slog.Logger

	mu   sync.RWMutex
	snap *Snapshot
	refs map[models.Ref]models.Callout
}

// NewStore creates a store persisting to path for the vault identified by
// its absolute root. The in-memory snapshot starts empty; call Load to
// pick up a previous session's file.
func NewStore(path, vault string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		vault:  vault,
		logger: logger,
		snap:   NewSnapshot(vault),
		refs:   make(map[models.Ref]models.Callout),
	}
	return s
}

// Load reads the persisted snapshot and reports whether a usable one was
// found. A missing, corrupt, version-mismatched or vault-mismatched file
// all mean a cold start; none of them is an error.
func (s *Store) Load() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("cache: no snapshot file", slog.String("path", s.path))
		return false
	}
	if err != nil {
		s.logger.Warn("cache: read snapshot failed, cold start", slog.String("error", err.Error()))
		return false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("cache: corrupt snapshot, cold start", slog.String("error", err.Error()))
		return false
	}
	if snap.Version != SchemaVersion {
		s.logger.Info("cache: snapshot version mismatch, cold start",
			slog.String("found", snap.Version), slog.String("want", SchemaVersion))
		return false
	}
	if snap.Vault != s.vault {
		s.logger.Info("cache: snapshot belongs to another vault, cold start",
			slog.String("found", snap.Vault))
		return false
	}
	if snap.DocMtimes == nil {
		snap.DocMtimes = make(map[string]models.TimeString)
	}

	s.snap = &snap
	s.rebuildRefs()
	s.logger.Info("cache: snapshot loaded",
		slog.Int("callouts", len(snap.Callouts)),
		slog.Int("documents", len(snap.DocMtimes)))
	return true
}

// Save persists the current snapshot atomically. Failures are returned
// for the caller to decide on and never panic.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Replace swaps in a freshly scanned snapshot and persists it once.
func (s *Store) Replace(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.Clone()
	s.rebuildRefs()
	return s.saveLocked()
}

// DocUpdate carries one document's re-parse result into a batch.
type DocUpdate struct {
	Callouts []models.Callout
	Mtime    models.TimeString
}

// ApplyBatch merges one incremental batch and persists exactly once, no
// matter how many documents the batch touches.
func (s *Store) ApplyBatch(docs map[string]DocUpdate, removed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range removed {
		s.snap.RemoveDoc(path)
	}
	for path, upd := range docs {
		s.snap.ReplaceDoc(path, upd.Callouts, upd.Mtime)
	}
	s.rebuildRefs()
	return s.saveLocked()
}

// SetCanvasHints records a callout's presentation size so later graph
// builds reuse it, persisting the change.
func (s *Store) SetCanvasHints(ref models.Ref, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.snap.Callouts {
		c := &s.snap.Callouts[i]
		if c.Path == ref.Path && c.ID == ref.ID && c.ID != "" {
			c.CanvasWidth, c.CanvasHeight = width, height
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	s.rebuildRefs()
	return s.saveLocked()
}

// Snapshot returns a deep copy of the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Callouts returns a deep copy of every indexed callout.
func (s *Store) Callouts() []models.Callout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Callout, len(s.snap.Callouts))
	for i, c := range s.snap.Callouts {
		out[i] = c.Clone()
	}
	return out
}

// Find returns the callout addressed by ref.
func (s *Store) Find(ref models.Ref) (models.Callout, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.refs[ref]
	if !ok {
		return models.Callout{}, false
	}
	return c.Clone(), true
}

// PriorCallout implements the parser's prior-index lookup.
func (s *Store) PriorCallout(path, id string) (models.Callout, bool) {
	return s.Find(models.Ref{Path: path, ID: id})
}

// HasID reports whether id is already assigned anywhere in the vault.
func (s *Store) HasID(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.HasID(id)
}

// Vault returns the vault identity the store was created for.
func (s *Store) Vault() string {
	return s.vault
}

// rebuildRefs reindexes identified callouts. Callers hold mu.
func (s *Store) rebuildRefs() {
	s.refs = make(map[models.Ref]models.Callout, len(s.snap.Callouts))
	for _, c := range s.snap.Callouts {
		if c.ID != "" {
			s.refs[c.Ref()] = c
		}
	}
}

// saveLocked marshals and atomically writes the snapshot. Callers hold mu.
func (s *Store) saveLocked() error {
	data, err := json.Marshal(s.snap)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".othala-cache-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cache: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	success = true

	s.logger.Debug("cache: snapshot saved",
		slog.Int("callouts", len(s.snap.Callouts)),
		slog.Int("bytes", len(data)))
	return nil
}
