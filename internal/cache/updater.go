package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/parser"
	"github.com/starford/othala/internal/storage"
)

// DefaultDebounce is how long the updater waits after the last change
// notification before flushing a batch.
const DefaultDebounce = 500 * time.Millisecond

// EventCallback is called once per path after a batch lands.
// kind is one of "updated", "deleted".
type EventCallback func(kind, path string)

// RefreshFunc receives the paths touched by a landed batch so derived
// indexes can catch up.
type RefreshFunc func(updated, removed []string)

// BatchResult summarizes one landed batch. ID correlates the batch's log
// lines.
type BatchResult struct {
	ID      string
	Updated []string
	Removed []string
}

// Updater turns change notifications into debounced, single-flight
// re-parse batches. Each flush merges every pending document and persists
// the snapshot exactly once; notifications arriving mid-flush roll into a
// following batch instead of widening the running one.
type Updater struct {
	store    *Store
	docs     storage.Provider
	parser   *parser.Parser
	debounce time.Duration
	logger   *slog.Logger
	refresh  RefreshFunc
	onEvent  EventCallback

	mu       sync.Mutex
	pending  map[string]bool // path → true when removed
	timer    *time.Timer
	inFlight bool
}

// NewUpdater wires an updater over the store and document provider. The
// parser must have been constructed with the same store as its prior
// index so identity carry-forward works. refresh and onEvent may be nil.
func NewUpdater(store *Store, docs storage.Provider, p *parser.Parser, debounce time.Duration, logger *slog.Logger, refresh RefreshFunc, onEvent EventCallback) *Updater {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Updater{
		store:    store,
		docs:     docs,
		parser:   p,
		debounce: debounce,
		logger:   logger,
		refresh:  refresh,
		onEvent:  onEvent,
		pending:  make(map[string]bool),
	}
}

// Notify marks a document as created or modified.
func (u *Updater) Notify(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending[path] = false
	u.scheduleLocked()
}

// NotifyRemove marks a document as deleted.
func (u *Updater) NotifyRemove(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending[path] = true
	u.scheduleLocked()
}

// Pending reports how many documents await the next flush.
func (u *Updater) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Flush processes any pending notifications immediately and returns the
// landed batch. Used at shutdown to avoid losing trailing changes.
func (u *Updater) Flush() BatchResult {
	u.mu.Lock()
	if u.timer != nil {
		u.timer.Stop()
	}
	batch := u.takeLocked()
	u.mu.Unlock()
	if batch == nil {
		return BatchResult{}
	}
	res := u.runBatch(batch)
	u.finishFlight()
	return res
}

// Reindex synchronously re-parses the given documents and merges them in
// one batch, the path a validity-check queue takes.
func (u *Updater) Reindex(paths []string) BatchResult {
	if len(paths) == 0 {
		return BatchResult{}
	}
	batch := make(map[string]bool, len(paths))
	for _, p := range paths {
		batch[p] = false
	}
	return u.runBatch(batch)
}

// scheduleLocked arms or re-arms the debounce timer. Callers hold mu.
func (u *Updater) scheduleLocked() {
	if u.timer == nil {
		u.timer = time.AfterFunc(u.debounce, u.flushTimer)
		return
	}
	u.timer.Reset(u.debounce)
}

// takeLocked claims the pending set for a flush, or returns nil when a
// flush is already running (it will re-arm on completion). Callers hold mu.
func (u *Updater) takeLocked() map[string]bool {
	if u.inFlight || len(u.pending) == 0 {
		return nil
	}
	u.inFlight = true
	batch := u.pending
	u.pending = make(map[string]bool)
	return batch
}

// finishFlight clears the in-flight mark and re-arms the timer when more
// notifications arrived during the flush.
func (u *Updater) finishFlight() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inFlight = false
	if len(u.pending) > 0 {
		u.scheduleLocked()
	}
}

func (u *Updater) flushTimer() {
	u.mu.Lock()
	batch := u.takeLocked()
	u.mu.Unlock()
	if batch == nil {
		return
	}
	u.runBatch(batch)
	u.finishFlight()
}

// runBatch re-parses every document in batch (or drops it when removed or
// no longer resolvable), merges the results, and persists once.
func (u *Updater) runBatch(batch map[string]bool) BatchResult {
	res := BatchResult{ID: uuid.NewString()}

	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	updates := make(map[string]DocUpdate)
	for _, path := range paths {
		if batch[path] {
			res.Removed = append(res.Removed, path)
			continue
		}
		mtime, err := u.docs.Stat(path)
		if err != nil {
			// Raced with a delete; treat as removed.
			res.Removed = append(res.Removed, path)
			continue
		}
		data, err := u.docs.Read(path)
		if err != nil {
			u.logger.Warn("cache: read failed, skipping document",
				slog.String("batch", res.ID),
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		callouts := u.parser.Parse(path, string(data), mtime)
		updates[path] = DocUpdate{Callouts: callouts, Mtime: models.NewTimeString(mtime)}
		res.Updated = append(res.Updated, path)
	}

	if len(updates) == 0 && len(res.Removed) == 0 {
		return res
	}

	if err := u.store.ApplyBatch(updates, res.Removed); err != nil {
		u.logger.Error("cache: batch save failed",
			slog.String("batch", res.ID),
			slog.String("error", err.Error()))
	}

	u.logger.Debug("cache: batch landed",
		slog.String("batch", res.ID),
		slog.Int("updated", len(res.Updated)),
		slog.Int("removed", len(res.Removed)))

	if u.refresh != nil {
		u.refresh(res.Updated, res.Removed)
	}
	if u.onEvent != nil {
		for _, p := range res.Updated {
			u.onEvent("updated", p)
		}
		for _, p := range res.Removed {
			u.onEvent("deleted", p)
		}
	}
	return res
}
