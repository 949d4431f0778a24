// Package calloutservice coordinates the store, cache, search index and
// graph builder behind the logical vault operations.
package calloutservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/cache"
	"github.com/starford/othala/internal/canvas"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/parser"
	"github.com/starford/othala/internal/storage"
)

// maxIDAttempts bounds how many generated ids are tried against the vault
// before giving up with a conflict.
const maxIDAttempts = 5

// Options tunes a Service.
type Options struct {
	// CanvasDir is the vault-relative directory graph artifacts are
	// written to. The watcher must ignore it.
	CanvasDir string
	// NodeWidth/NodeHeight override the default graph node size.
	NodeWidth  int
	NodeHeight int
	// OnVaultSynced, when set, is called after every completed full scan.
	OnVaultSynced func()
}

// BuildResult describes one regenerated graph artifact.
type BuildResult struct {
	Artifact string     `json:"artifact"`
	Focal    models.Ref `json:"focal"`
	Nodes    int        `json:"nodes"`
	Edges    int        `json:"edges"`
}

// Service exposes the vault's logical operations. All methods return
// errors instead of panicking past this boundary.
type Service struct {
	docs    storage.Provider
	store   *cache.Store
	updater *cache.Updater
	parser  *parser.Parser
	db      *index.DB
	builder *graph.Builder
	logger  *slog.Logger
	opts    Options

	scans singleflight.Group
}

// NewService wires a service over its collaborators. The parser must share
// its prior index with store for identity carry-forward.
func NewService(docs storage.Provider, store *cache.Store, updater *cache.Updater, p *parser.Parser, db *index.DB, logger *slog.Logger, opts Options) *Service {
	if opts.CanvasDir == "" {
		opts.CanvasDir = "canvases"
	}
	return &Service{
		docs:    docs,
		store:   store,
		updater: updater,
		parser:  p,
		db:      db,
		builder: graph.NewBuilder(store),
		logger:  logger,
		opts:    opts,
	}
}

// ExtractCurrentDocument re-parses a single document synchronously and
// returns its callouts.
func (s *Service) ExtractCurrentDocument(_ context.Context, docPath string) ([]models.Callout, error) {
	if _, err := s.docs.Stat(docPath); err != nil {
		return nil, fmt.Errorf("calloutservice: %s: %w", docPath, apperr.ErrNotFound)
	}
	s.updater.Reindex([]string{docPath})
	return s.store.Snapshot().DocCallouts(docPath), nil
}

// ExtractAllDocuments returns every callout in the vault, re-parsing as
// little as the cache allows: a valid snapshot answers after at most a
// small incremental catch-up, anything else triggers a full scan.
func (s *Service) ExtractAllDocuments(_ context.Context, activePath string) ([]models.Callout, error) {
	metas, err := s.docs.List("", ".md")
	if err != nil {
		return nil, fmt.Errorf("calloutservice: list documents: %w", err)
	}

	dec := cache.CheckValidity(s.store.Snapshot(), metas)
	if !dec.Valid {
		s.logger.Info("calloutservice: cache invalid, full scan",
			slog.String("reason", dec.Reason))
		return s.collapseFullScan(activePath)
	}
	if len(dec.Queue) > 0 {
		s.updater.Reindex(dec.Queue)
	}
	return s.store.Callouts(), nil
}

// RefreshAll forces a full rescan regardless of cache state. Concurrent
// calls collapse into one scan and share its result.
func (s *Service) RefreshAll(_ context.Context, activePath string) ([]models.Callout, error) {
	return s.collapseFullScan(activePath)
}

func (s *Service) collapseFullScan(activePath string) ([]models.Callout, error) {
	v, err, _ := s.scans.Do("full-scan", func() (any, error) {
		return s.fullScan(activePath)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Callout), nil
}

// fullScan rebuilds the snapshot from every document, processing the
// active document first so its results land even if the rest is slow,
// and persists exactly once.
func (s *Service) fullScan(activePath string) ([]models.Callout, error) {
	metas, err := s.docs.List("", ".md")
	if err != nil {
		return nil, fmt.Errorf("calloutservice: list documents: %w", err)
	}
	order := scanOrder(metas, activePath)

	snap := cache.NewSnapshot(s.store.Vault())
	for _, m := range order {
		data, err := s.docs.Read(m.Path)
		if err != nil {
			// Contributes zero callouts this pass; no mtime entry means the
			// next validity check queues it again.
			s.logger.Warn("calloutservice: read failed, skipping document",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		snap.ReplaceDoc(m.Path, s.parser.Parse(m.Path, string(data), m.Mtime), models.NewTimeString(m.Mtime))
	}

	if err := s.store.Replace(snap); err != nil {
		return nil, fmt.Errorf("calloutservice: persist scan: %w", err)
	}
	if err := index.SyncSnapshot(s.db, snap, s.logger); err != nil {
		s.logger.Warn("calloutservice: search index sync failed", slog.String("error", err.Error()))
	}

	s.logger.Info("calloutservice: full scan complete",
		slog.Int("documents", len(order)),
		slog.Int("callouts", len(snap.Callouts)))
	if s.opts.OnVaultSynced != nil {
		s.opts.OnVaultSynced()
	}
	return s.store.Callouts(), nil
}

// scanOrder sorts documents by path, pulling the active one to the front.
func scanOrder(metas []models.DocInfo, activePath string) []models.DocInfo {
	sort.Slice(metas, func(i, j int) bool { return metas[i].Path < metas[j].Path })
	if activePath == "" {
		return metas
	}
	out := make([]models.DocInfo, 0, len(metas))
	for _, m := range metas {
		if m.Path == activePath {
			out = append(out, m)
		}
	}
	for _, m := range metas {
		if m.Path != activePath {
			out = append(out, m)
		}
	}
	return out
}

// GetCallout returns the identified callout addressed by ref.
func (s *Service) GetCallout(_ context.Context, ref models.Ref) (models.Callout, error) {
	c, ok := s.store.Find(ref)
	if !ok {
		return models.Callout{}, fmt.Errorf("calloutservice: %s: %w", ref, apperr.ErrNotFound)
	}
	return c, nil
}

// ListCallouts returns a page of indexed callouts with optional type filter.
func (s *Service) ListCallouts(_ context.Context, limit, offset int, typ, sortBy string) ([]index.CalloutRow, int, error) {
	rows, total, err := s.db.ListCallouts(limit, offset, typ, sortBy)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Backlinks returns every indexed callout linking at target.
func (s *Service) Backlinks(_ context.Context, target models.Ref) ([]index.BacklinkRow, error) {
	rows, err := s.db.Backlinks(target)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(rows), nil
}

// AssignIdentifier gives the callout at the given 1-based line of docPath a
// vault-unique id, injecting the marker into the source text. Already
// identified callouts are returned as-is. Nothing is committed to the
// snapshot or search index until the source write succeeds, so a failed
// write leaves no trace of the id.
func (s *Service) AssignIdentifier(_ context.Context, docPath string, line int) (models.Ref, error) {
	if _, err := s.docs.Stat(docPath); err != nil {
		return models.Ref{}, fmt.Errorf("calloutservice: %s: %w", docPath, apperr.ErrNotFound)
	}
	// Refresh line hints before trusting them.
	s.updater.Reindex([]string{docPath})

	target, ok := calloutAt(s.store.Snapshot().DocCallouts(docPath), line)
	if !ok {
		return models.Ref{}, fmt.Errorf("calloutservice: no callout at %s:%d: %w", docPath, line, apperr.ErrNotFound)
	}
	if target.ID != "" {
		return target.Ref(), nil
	}

	id, err := s.uniqueID(target.Type)
	if err != nil {
		return models.Ref{}, err
	}

	data, err := s.docs.Read(docPath)
	if err != nil {
		return models.Ref{}, fmt.Errorf("calloutservice: read %s: %w", docPath, err)
	}
	injected, ok := injectIDMarker(string(data), target.Line, id)
	if !ok {
		return models.Ref{}, fmt.Errorf("calloutservice: %s:%d no longer holds a callout: %w", docPath, target.Line, apperr.ErrConflict)
	}
	if err := s.docs.Write(docPath, []byte(injected)); err != nil {
		return models.Ref{}, fmt.Errorf("calloutservice: write id back: %w", err)
	}

	s.updater.Reindex([]string{docPath})
	ref := models.Ref{Path: docPath, ID: id}
	s.logger.Info("calloutservice: id assigned",
		slog.String("ref", ref.String()), slog.Int("line", target.Line))
	return ref, nil
}

// uniqueID generates a fresh vault-unique id with the callout type as
// prefix.
func (s *Service) uniqueID(typ string) (string, error) {
	prefix := idPrefix(typ)
	for i := 0; i < maxIDAttempts; i++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("calloutservice: generate id: %w", err)
		}
		id := prefix + "-" + hex.EncodeToString(buf)
		if !s.store.HasID(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("calloutservice: id space exhausted for %q: %w", prefix, apperr.ErrConflict)
}

// idPrefix reduces a callout type to identifier-safe characters.
func idPrefix(typ string) string {
	clean := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return -1
	}, typ)
	if clean == "" {
		return "note"
	}
	return clean
}

// BuildRelationshipGraph regenerates the canvas artifact for the callout
// at the given position, assigning it an id first when it has none. The
// old artifact contributes its focal size and any out-of-band edges, then
// is replaced wholesale.
func (s *Service) BuildRelationshipGraph(ctx context.Context, docPath string, line int) (*BuildResult, error) {
	ref, err := s.AssignIdentifier(ctx, docPath, line)
	if err != nil {
		return nil, err
	}

	artifact := path.Join(s.opts.CanvasDir, canvas.Filename(ref))
	files, prior := s.loadCanvases(artifact)

	if prior != nil {
		if node, ok := prior.FindNode(ref); ok && node.Width > 0 && node.Height > 0 {
			if err := s.store.SetCanvasHints(ref, node.Width, node.Height); err != nil {
				s.logger.Warn("calloutservice: keeping focal size in memory only",
					slog.String("error", err.Error()))
			}
		}
	}

	g, err := s.builder.Build(ref, graph.Options{
		NodeWidth:  s.opts.NodeWidth,
		NodeHeight: s.opts.NodeHeight,
	})
	if err != nil {
		return nil, err
	}
	s.builder.MergeArtifactEdges(g, files)

	// Full regeneration: the old artifact is deleted, never patched.
	if err := s.docs.Delete(artifact); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("calloutservice: stale artifact not removed",
			slog.String("path", artifact), slog.String("error", err.Error()))
	}
	data, err := canvas.Encode(g.Canvas())
	if err != nil {
		return nil, err
	}
	if err := s.docs.Write(artifact, data); err != nil {
		return nil, fmt.Errorf("calloutservice: write artifact: %w", err)
	}

	s.logger.Info("calloutservice: graph rebuilt",
		slog.String("focal", ref.String()),
		slog.String("artifact", artifact),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)))
	return &BuildResult{Artifact: artifact, Focal: ref, Nodes: len(g.Nodes), Edges: len(g.Edges)}, nil
}

// loadCanvases decodes every artifact in the canvas directory, returning
// them in deterministic path order plus the one at priorPath when present.
// Malformed files are skipped so a half-written canvas never contributes
// edges.
func (s *Service) loadCanvases(priorPath string) ([]*canvas.File, *canvas.File) {
	metas, err := s.docs.List(s.opts.CanvasDir, ".canvas")
	if err != nil {
		s.logger.Warn("calloutservice: listing canvases failed", slog.String("error", err.Error()))
		return nil, nil
	}

	var files []*canvas.File
	var prior *canvas.File
	for _, m := range metas {
		data, err := s.docs.Read(m.Path)
		if err != nil {
			s.logger.Warn("calloutservice: canvas unreadable, skipping",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		f, err := canvas.Decode(data)
		if err != nil {
			s.logger.Warn("calloutservice: malformed canvas, skipping",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		files = append(files, f)
		if m.Path == priorPath {
			prior = f
		}
	}
	return files, prior
}

// calloutAt picks the callout whose block the 1-based line falls in: the
// nearest header at or above it. line <= 0 selects the document's first
// callout.
func calloutAt(callouts []models.Callout, line int) (models.Callout, bool) {
	if len(callouts) == 0 {
		return models.Callout{}, false
	}
	sort.Slice(callouts, func(i, j int) bool { return callouts[i].Line < callouts[j].Line })
	if line <= 0 {
		return callouts[0], true
	}
	var hit models.Callout
	found := false
	for _, c := range callouts {
		if c.Line <= line {
			hit, found = c, true
		}
	}
	return hit, found
}

// injectIDMarker appends " ^id" to the last body line of the callout whose
// header sits at the 1-based headerLine, or adds a marker-only body line
// when the callout has no body. Reports failure when headerLine no longer
// holds a callout header.
func injectIDMarker(text string, headerLine int, id string) (string, bool) {
	lines := strings.Split(text, "\n")
	idx := headerLine - 1
	if idx < 0 || idx >= len(lines) || !parser.IsHeader(lines[idx]) {
		return "", false
	}

	// Walk the block the way the parser consumes it: quoted lines extend
	// it, blank lines separate, a new header or plain text ends it.
	last := idx
	for i := idx + 1; i < len(lines); i++ {
		raw := strings.TrimSuffix(lines[i], "\r")
		if strings.HasPrefix(raw, ">") {
			if parser.IsHeader(raw) {
				break
			}
			last = i
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		break
	}

	if last == idx {
		marker := "> ^" + id
		if strings.HasSuffix(lines[idx], "\r") {
			marker += "\r"
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:idx+1]...)
		out = append(out, marker)
		out = append(out, lines[idx+1:]...)
		return strings.Join(out, "\n"), true
	}

	if strings.HasSuffix(lines[last], "\r") {
		lines[last] = strings.TrimSuffix(lines[last], "\r") + " ^" + id + "\r"
	} else {
		lines[last] += " ^" + id
	}
	return strings.Join(lines, "\n"), true
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
