package graph

import (
	"github.com/starford/othala/internal/canvas"
	"github.com/starford/othala/internal/models"
)

// Default node dimensions when neither options nor stored hints say
// otherwise.
const (
	DefaultNodeWidth  = 400
	DefaultNodeHeight = 160
)

const (
	minColumnGap = 100
	rowGap       = 40
)

// layout positions every node. The focal node sits at the origin; inbound
// nodes form a column to its left and outbound nodes one to its right,
// each evenly spaced and centered on the focal's vertical midpoint.
// Bidirectional nodes share the focal's column, alternating above and
// below it. The horizontal gap grows with the focal width so a large
// focal node never overlaps its columns. Pure integer arithmetic keeps
// the result byte-identical for identical input.
func layout(g *Graph) {
	focal := &g.Nodes[0]
	focal.X, focal.Y = 0, 0
	focalCenterY := focal.Height / 2

	gapX := focal.Width / 2
	if gapX < minColumnGap {
		gapX = minColumnGap
	}

	var inbound, outbound, bidirectional []*Node
	for i := 1; i < len(g.Nodes); i++ {
		n := &g.Nodes[i]
		switch n.Direction {
		case DirInbound:
			inbound = append(inbound, n)
		case DirOutbound:
			outbound = append(outbound, n)
		case DirBidirectional:
			bidirectional = append(bidirectional, n)
		}
	}

	// Left column: right edges aligned at -gapX.
	placeColumn(inbound, focalCenterY, func(n *Node) int { return -(gapX + n.Width) })
	// Right column: left edges aligned just past the focal's right edge.
	placeColumn(outbound, focalCenterY, func(n *Node) int { return focal.Width + gapX })

	// Focal column, alternating above and below.
	above, below := 0, focal.Height
	for i, n := range bidirectional {
		n.X = focal.Width/2 - n.Width/2
		if i%2 == 0 {
			n.Y = above - rowGap - n.Height
			above = n.Y
		} else {
			n.Y = below + rowGap
			below = n.Y + n.Height
		}
	}
}

// placeColumn stacks nodes vertically, evenly spaced, with the column's
// total extent centered on centerY.
func placeColumn(nodes []*Node, centerY int, xFor func(*Node) int) {
	if len(nodes) == 0 {
		return
	}
	total := rowGap * (len(nodes) - 1)
	for _, n := range nodes {
		total += n.Height
	}
	y := centerY - total/2
	for _, n := range nodes {
		n.X = xFor(n)
		n.Y = y
		y += n.Height + rowGap
	}
}

// colorForType maps built-in callout types onto the canvas preset palette.
// Custom types keep the renderer's default color.
func colorForType(t string) string {
	switch t {
	case "danger", "error", "bug", "failure", "fail", "missing":
		return "1"
	case "warning", "caution", "attention", "todo":
		return "2"
	case "question", "help", "faq":
		return "3"
	case "success", "check", "done":
		return "4"
	case "info", "note", "abstract", "summary", "tldr", "tip", "hint":
		return "5"
	case "important", "example", "quote", "cite":
		return "6"
	default:
		return ""
	}
}

// Canvas renders the graph as an exportable artifact. Edge attachment
// sides follow the dominant axis between the node centers.
func (g *Graph) Canvas() *canvas.File {
	f := &canvas.File{}
	byRef := make(map[models.Ref]*Node, len(g.Nodes))
	ids := make(map[models.Ref]string, len(g.Nodes))

	for i := range g.Nodes {
		n := &g.Nodes[i]
		cn := canvas.FileNode(n.Ref)
		cn.X, cn.Y = n.X, n.Y
		cn.Width, cn.Height = n.Width, n.Height
		cn.Color = n.Color
		f.Nodes = append(f.Nodes, cn)
		byRef[n.Ref] = n
		ids[n.Ref] = cn.ID
	}

	for _, e := range g.Edges {
		fromID, toID := ids[e.From], ids[e.To]
		fromSide, toSide := sides(byRef[e.From], byRef[e.To])
		f.Edges = append(f.Edges, canvas.Edge{
			ID:       canvas.EdgeID(fromID, toID),
			FromNode: fromID,
			FromSide: fromSide,
			ToNode:   toID,
			ToSide:   toSide,
			Label:    e.Label,
		})
	}
	return f
}

func sides(from, to *Node) (string, string) {
	dx := (to.X + to.Width/2) - (from.X + from.Width/2)
	dy := (to.Y + to.Height/2) - (from.Y + from.Height/2)
	if abs(dx) >= abs(dy) {
		if dx >= 0 {
			return "right", "left"
		}
		return "left", "right"
	}
	if dy >= 0 {
		return "bottom", "top"
	}
	return "top", "bottom"
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
