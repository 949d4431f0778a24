// Package canvas reads and writes JSON Canvas graph artifacts.
package canvas

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/models"
)

// Node is one positioned element of a canvas file. Callout nodes are file
// nodes bound to a document plus a block anchor subpath.
type Node struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	File    string `json:"file,omitempty"`
	Subpath string `json:"subpath,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Color   string `json:"color,omitempty"`
}

// Edge is a directed, optionally labeled connection between two nodes.
type Edge struct {
	ID       string `json:"id"`
	FromNode string `json:"fromNode"`
	FromSide string `json:"fromSide,omitempty"`
	ToNode   string `json:"toNode"`
	ToSide   string `json:"toSide,omitempty"`
	Label    string `json:"label,omitempty"`
}

// File is a complete canvas artifact.
type File struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// RefEdge is an edge translated back into callout refs.
type RefEdge struct {
	From  models.Ref
	To    models.Ref
	Label string
}

// NodeID derives the deterministic canvas element id for a callout.
func NodeID(ref models.Ref) string {
	return checksum.ShortSum([]byte(ref.String()), 16)
}

// EdgeID derives the deterministic canvas element id for an edge.
func EdgeID(fromNode, toNode string) string {
	return checksum.ShortSum([]byte(fromNode+"->"+toNode), 16)
}

// FileNode builds the canvas node binding for a callout ref.
func FileNode(ref models.Ref) Node {
	return Node{
		ID:      NodeID(ref),
		Type:    "file",
		File:    ref.Path,
		Subpath: "#^" + ref.ID,
	}
}

// Ref recovers the callout ref a node is bound to. Non-file nodes and
// nodes without a block anchor have no ref.
func (n Node) Ref() (models.Ref, bool) {
	if n.Type != "file" || n.File == "" {
		return models.Ref{}, false
	}
	id, ok := strings.CutPrefix(n.Subpath, "#^")
	if !ok || id == "" {
		return models.Ref{}, false
	}
	return models.Ref{Path: n.File, ID: id}, true
}

// RefEdges translates every edge whose endpoints are callout-bound nodes
// into ref pairs.
func (f *File) RefEdges() []RefEdge {
	refs := make(map[string]models.Ref, len(f.Nodes))
	for _, n := range f.Nodes {
		if r, ok := n.Ref(); ok {
			refs[n.ID] = r
		}
	}
	var out []RefEdge
	for _, e := range f.Edges {
		from, okFrom := refs[e.FromNode]
		to, okTo := refs[e.ToNode]
		if !okFrom || !okTo {
			continue
		}
		out = append(out, RefEdge{From: from, To: to, Label: e.Label})
	}
	return out
}

// FindNode returns the node bound to ref.
func (f *File) FindNode(ref models.Ref) (Node, bool) {
	for _, n := range f.Nodes {
		if r, ok := n.Ref(); ok && r == ref {
			return n, true
		}
	}
	return Node{}, false
}

// Encode renders the artifact. Output is byte-deterministic for identical
// input.
func Encode(f *File) ([]byte, error) {
	if f.Nodes == nil {
		f.Nodes = []Node{}
	}
	if f.Edges == nil {
		f.Edges = []Edge{}
	}
	data, err := json.MarshalIndent(f, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("canvas: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses an artifact, rejecting malformed files outright so a
// half-written canvas never contributes edges.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("canvas: decode: %w", err)
	}
	return &f, nil
}

// Filename encodes both the owning document and the focal callout's id so
// artifacts for same-typed callouts in different documents never collide.
// "notes/sub/Doc.md" with id "note-ab12cd" maps to
// "notes__sub__Doc.note-ab12cd.canvas".
func Filename(ref models.Ref) string {
	base := strings.TrimSuffix(ref.Path, ".md")
	base = strings.ReplaceAll(base, "/", "__")
	return base + "." + ref.ID + ".canvas"
}
