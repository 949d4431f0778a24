package cache

import (
	"sort"

	"github.com/starford/othala/internal/models"
)

const (
	// maxIncrementalDocs bounds how many modified documents one validity
	// check may queue for incremental re-parse before a full rescan is
	// cheaper than patching.
	maxIncrementalDocs = 5
	// maxNewDocs is the same bound for previously unseen documents.
	maxNewDocs = 5
)

// Decision is the outcome of a validity check against the live vault.
// When Valid is true, Queue holds the documents (modified plus new, in
// sorted order) that must be re-parsed for the snapshot to catch up; an
// empty queue means the snapshot is current as-is.
type Decision struct {
	Valid   bool
	Queue   []string
	Deleted []string
	Reason  string
}

// CheckValidity classifies every document against the snapshot's stored
// mtimes. Any deletion, or more than maxIncrementalDocs modified or
// maxNewDocs new documents, invalidates the snapshot and the caller must
// full-scan.
func CheckValidity(snap *Snapshot, docs []models.DocInfo) Decision {
	var modified, added []string
	seen := make(map[string]struct{}, len(docs))

	for _, d := range docs {
		seen[d.Path] = struct{}{}
		stored, ok := snap.DocMtimes[d.Path]
		if !ok {
			added = append(added, d.Path)
			continue
		}
		// The canonical layout sorts lexicographically, so string
		// comparison is chronological comparison.
		if string(models.NewTimeString(d.Mtime)) > string(stored) {
			modified = append(modified, d.Path)
		}
	}

	var deleted []string
	for p := range snap.DocMtimes {
		if _, ok := seen[p]; !ok {
			deleted = append(deleted, p)
		}
	}

	sort.Strings(modified)
	sort.Strings(added)
	sort.Strings(deleted)

	switch {
	case len(deleted) > 0:
		return Decision{Deleted: deleted, Reason: "document deleted"}
	case len(modified) > maxIncrementalDocs:
		return Decision{Reason: "too many modified documents"}
	case len(added) > maxNewDocs:
		return Decision{Reason: "too many new documents"}
	}

	queue := make([]string, 0, len(modified)+len(added))
	queue = append(queue, modified...)
	queue = append(queue, added...)
	sort.Strings(queue)
	return Decision{Valid: true, Queue: queue}
}
