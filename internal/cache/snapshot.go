// Package cache persists the callout index and keeps it consistent with
// the vault as documents change.
package cache

import (
	"github.com/starford/othala/internal/models"
)

// SchemaVersion is bumped whenever the snapshot layout changes in a way
// older readers cannot handle. A persisted snapshot with a different
// version is discarded wholesale.
const SchemaVersion = "3"

// Snapshot is the persisted callout index: every callout in the vault plus
// the per-document modification times they were derived from. Vault is the
// absolute root path of the vault the snapshot was built from; a snapshot
// from another vault is never reused.
type Snapshot struct {
	Version   string                       `json:"version"`
	Vault     string                       `json:"vault"`
	Callouts  []models.Callout             `json:"callouts"`
	DocMtimes map[string]models.TimeString `json:"doc_mtimes"`
}

// NewSnapshot returns an empty snapshot for the given vault identity.
func NewSnapshot(vault string) *Snapshot {
	return &Snapshot{
		Version:   SchemaVersion,
		Vault:     vault,
		DocMtimes: make(map[string]models.TimeString),
	}
}

// Clone returns a deep copy safe to hand to callers.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:   s.Version,
		Vault:     s.Vault,
		DocMtimes: make(map[string]models.TimeString, len(s.DocMtimes)),
	}
	if s.Callouts != nil {
		out.Callouts = make([]models.Callout, len(s.Callouts))
		for i, c := range s.Callouts {
			out.Callouts[i] = c.Clone()
		}
	}
	for k, v := range s.DocMtimes {
		out.DocMtimes[k] = v
	}
	return out
}

// ReplaceDoc drops every callout owned by path and appends the freshly
// parsed ones, recording the document mtime they were derived from.
func (s *Snapshot) ReplaceDoc(path string, callouts []models.Callout, mtime models.TimeString) {
	s.dropDoc(path)
	s.Callouts = append(s.Callouts, callouts...)
	s.DocMtimes[path] = mtime
}

// RemoveDoc drops every callout owned by path along with its mtime entry.
func (s *Snapshot) RemoveDoc(path string) {
	s.dropDoc(path)
	delete(s.DocMtimes, path)
}

func (s *Snapshot) dropDoc(path string) {
	kept := s.Callouts[:0]
	for _, c := range s.Callouts {
		if c.Path != path {
			kept = append(kept, c)
		}
	}
	s.Callouts = kept
}

// DocCallouts returns the callouts owned by path, in document order.
func (s *Snapshot) DocCallouts(path string) []models.Callout {
	var out []models.Callout
	for _, c := range s.Callouts {
		if c.Path == path {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Find returns the callout addressed by ref. Only identified callouts are
// addressable.
func (s *Snapshot) Find(ref models.Ref) (models.Callout, bool) {
	if ref.ID == "" {
		return models.Callout{}, false
	}
	for _, c := range s.Callouts {
		if c.Path == ref.Path && c.ID == ref.ID {
			return c.Clone(), true
		}
	}
	return models.Callout{}, false
}

// HasID reports whether id is already used anywhere in the vault. IDs are
// vault-unique once assigned.
func (s *Snapshot) HasID(id string) bool {
	for _, c := range s.Callouts {
		if c.ID == id {
			return true
		}
	}
	return false
}
