// Package graph derives relationship graphs between callouts and lays them
// out for canvas export.
package graph

import (
	"fmt"
	"path"
	"sort"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/canvas"
	"github.com/starford/othala/internal/models"
)

// RecordSource supplies the indexed callouts a graph is derived from. The
// cache store satisfies it.
type RecordSource interface {
	Callouts() []models.Callout
	Find(ref models.Ref) (models.Callout, bool)
}

// Direction classifies a related callout relative to the focal one.
type Direction int

const (
	DirFocal Direction = iota
	DirOutbound
	DirInbound
	DirBidirectional
)

func (d Direction) String() string {
	switch d {
	case DirFocal:
		return "focal"
	case DirOutbound:
		return "outbound"
	case DirInbound:
		return "inbound"
	case DirBidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// Node is a positioned callout in a relationship graph. Coordinates are
// canvas-style: X/Y is the top-left corner.
type Node struct {
	Ref       models.Ref
	Callout   models.Callout
	Direction Direction
	X, Y      int
	Width     int
	Height    int
	Color     string
}

// Edge is a directed, optionally labeled connection between two indexed
// callouts.
type Edge struct {
	From  models.Ref
	To    models.Ref
	Label string
}

// Graph is one build result, recomputed per request and never cached.
// Nodes[0] is always the focal node.
type Graph struct {
	Focal models.Ref
	Nodes []Node
	Edges []Edge

	labels map[[2]models.Ref]string
}

// Options tunes a build. Zero values fall back to the focal callout's
// stored canvas hints, then to the package defaults.
type Options struct {
	NodeWidth   int
	NodeHeight  int
	FocalWidth  int
	FocalHeight int
}

// Builder derives graphs from an injected record source.
type Builder struct {
	source RecordSource
}

// NewBuilder returns a Builder reading from source.
func NewBuilder(source RecordSource) *Builder {
	return &Builder{source: source}
}

// Build derives the relationship graph around focal: outbound targets of
// its outlinks, inbound callouts linking back at it, with targets in both
// sets classified bidirectional instead of double-counted. Self-references
// are discarded. The layout is deterministic for identical index content.
func (b *Builder) Build(focal models.Ref, opts Options) (*Graph, error) {
	focalCallout, ok := b.source.Find(focal)
	if !ok {
		return nil, fmt.Errorf("graph: focal callout %s: %w", focal, apperr.ErrNotFound)
	}

	all := b.source.Callouts()
	// The index hands records back in storage order; sort so layout does
	// not depend on how batches happened to land.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Path != all[j].Path {
			return all[i].Path < all[j].Path
		}
		return all[i].Line < all[j].Line
	})

	res := newResolver(all)
	labels := labelMap(all, res)

	outbound := make(map[models.Ref]models.Callout)
	for _, l := range focalCallout.Outlinks {
		target, ok := res.resolve(models.Ref{Path: l.TargetPath, ID: l.TargetID})
		if !ok {
			continue // dangling link
		}
		tr := target.Ref()
		if tr == focal {
			continue
		}
		outbound[tr] = target
	}

	inbound := make(map[models.Ref]models.Callout)
	for _, c := range all {
		if c.ID == "" {
			continue
		}
		cr := c.Ref()
		if cr == focal {
			continue
		}
		for _, l := range c.Outlinks {
			target, ok := res.resolve(models.Ref{Path: l.TargetPath, ID: l.TargetID})
			if ok && target.Ref() == focal {
				inbound[cr] = c
				break
			}
		}
	}

	bidirectional := make(map[models.Ref]models.Callout)
	for r, c := range outbound {
		if _, ok := inbound[r]; ok {
			bidirectional[r] = c
		}
	}
	for r := range bidirectional {
		delete(outbound, r)
		delete(inbound, r)
	}

	g := &Graph{Focal: focal, labels: labels}

	focalNode := Node{
		Ref:       focal,
		Callout:   focalCallout,
		Direction: DirFocal,
		Width:     pick(opts.FocalWidth, focalCallout.CanvasWidth, defaultOr(opts.NodeWidth, DefaultNodeWidth)),
		Height:    pick(opts.FocalHeight, focalCallout.CanvasHeight, defaultOr(opts.NodeHeight, DefaultNodeHeight)),
		Color:     colorForType(focalCallout.Type),
	}
	g.Nodes = append(g.Nodes, focalNode)

	appendNodes := func(set map[models.Ref]models.Callout, dir Direction) {
		for _, r := range sortedRefs(set) {
			c := set[r]
			g.Nodes = append(g.Nodes, Node{
				Ref:       r,
				Callout:   c,
				Direction: dir,
				Width:     pick(c.CanvasWidth, defaultOr(opts.NodeWidth, DefaultNodeWidth)),
				Height:    pick(c.CanvasHeight, defaultOr(opts.NodeHeight, DefaultNodeHeight)),
				Color:     colorForType(c.Type),
			})
		}
	}
	appendNodes(inbound, DirInbound)
	appendNodes(outbound, DirOutbound)
	appendNodes(bidirectional, DirBidirectional)

	layout(g)

	for _, r := range sortedRefs(outbound) {
		g.Edges = append(g.Edges, Edge{From: focal, To: r, Label: labels[[2]models.Ref{focal, r}]})
	}
	for _, r := range sortedRefs(inbound) {
		g.Edges = append(g.Edges, Edge{From: r, To: focal, Label: labels[[2]models.Ref{r, focal}]})
	}
	for _, r := range sortedRefs(bidirectional) {
		g.Edges = append(g.Edges,
			Edge{From: focal, To: r, Label: labels[[2]models.Ref{focal, r}]},
			Edge{From: r, To: focal, Label: labels[[2]models.Ref{r, focal}]},
		)
	}

	return g, nil
}

// MergeArtifactEdges folds edges recovered from previously exported canvas
// files into g. Only edges whose endpoints are both nodes of g are
// adopted; a label from the live outlink scan still wins over the label
// stored in the artifact.
func (b *Builder) MergeArtifactEdges(g *Graph, files []*canvas.File) {
	present := make(map[models.Ref]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		present[n.Ref] = true
	}
	have := make(map[[2]models.Ref]bool, len(g.Edges))
	for _, e := range g.Edges {
		have[[2]models.Ref{e.From, e.To}] = true
	}

	for _, f := range files {
		for _, re := range f.RefEdges() {
			if re.From == re.To || !present[re.From] || !present[re.To] {
				continue
			}
			key := [2]models.Ref{re.From, re.To}
			if have[key] {
				continue
			}
			label := g.labels[key]
			if label == "" {
				label = re.Label
			}
			g.Edges = append(g.Edges, Edge{From: re.From, To: re.To, Label: label})
			have[key] = true
		}
	}
}

// resolver maps outlink targets to indexed callouts: exact path match
// first, then unique-basename fallback for links written with a bare
// document name.
type resolver struct {
	exact  map[models.Ref]models.Callout
	byBase map[models.Ref][]models.Callout
}

func newResolver(all []models.Callout) *resolver {
	r := &resolver{
		exact:  make(map[models.Ref]models.Callout),
		byBase: make(map[models.Ref][]models.Callout),
	}
	for _, c := range all {
		if c.ID == "" {
			continue
		}
		r.exact[c.Ref()] = c
		baseKey := models.Ref{Path: path.Base(c.Path), ID: c.ID}
		r.byBase[baseKey] = append(r.byBase[baseKey], c)
	}
	return r
}

func (r *resolver) resolve(ref models.Ref) (models.Callout, bool) {
	if c, ok := r.exact[ref]; ok {
		return c, true
	}
	cands := r.byBase[models.Ref{Path: path.Base(ref.Path), ID: ref.ID}]
	if len(cands) == 1 {
		return cands[0], true
	}
	return models.Callout{}, false
}

// labelMap collects the first non-empty label seen for every resolved
// (source, target) pair across the whole index, in sorted document order.
// An edge's label therefore comes from the vault-wide scan, not just from
// whichever outlink happened to produce the edge.
func labelMap(all []models.Callout, res *resolver) map[[2]models.Ref]string {
	labels := make(map[[2]models.Ref]string)
	for _, c := range all {
		if c.ID == "" {
			continue
		}
		for _, l := range c.Outlinks {
			if l.Label == "" {
				continue
			}
			target, ok := res.resolve(models.Ref{Path: l.TargetPath, ID: l.TargetID})
			if !ok {
				continue
			}
			key := [2]models.Ref{c.Ref(), target.Ref()}
			if _, dup := labels[key]; !dup {
				labels[key] = l.Label
			}
		}
	}
	return labels
}

func sortedRefs(set map[models.Ref]models.Callout) []models.Ref {
	refs := make([]models.Ref, 0, len(set))
	for r := range set {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Path != refs[j].Path {
			return refs[i].Path < refs[j].Path
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

// pick returns the first positive value.
func pick(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func defaultOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
