package api

import (
	"github.com/starford/othala/internal/calloutservice"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
)

// ScanRequest is the request body for vault scans. ActivePath, when set,
// names the document whose callouts should be parsed first.
type ScanRequest struct {
	ActivePath string `json:"active_path,omitempty" example:"topics/axioms.md"`
}

// IdentifierRequest asks for a block identifier on the callout at or
// before Line in the named document.
type IdentifierRequest struct {
	Path string `json:"path" example:"topics/axioms.md" validate:"required"`
	Line int    `json:"line" example:"12"`
}

// GraphRequest asks for a relationship graph centered on the callout at
// or before Line in the named document.
type GraphRequest struct {
	Path string `json:"path" example:"topics/axioms.md" validate:"required"`
	Line int    `json:"line" example:"12"`
}

// Callout is the full extracted callout (aliased from the domain layer).
type Callout = models.Callout

// BuildResult describes a regenerated graph artifact (aliased from the
// domain layer).
type BuildResult = calloutservice.BuildResult

// CalloutListItem is a lightweight row in a list response.
type CalloutListItem struct {
	Path     string `json:"path" example:"topics/axioms.md" validate:"required"`
	Line     int    `json:"line" example:"12" validate:"required"`
	Type     string `json:"type" example:"note" validate:"required"`
	Title    string `json:"title,omitempty" example:"Axiom of choice"`
	BlockID  string `json:"block_id,omitempty" example:"note-a1b2c3"`
	Modified string `json:"modified_time" example:"2026-02-11 09:30:00"`
}

// CalloutListResponse wraps paginated callout listings.
type CalloutListResponse struct {
	Callouts []CalloutListItem `json:"callouts" validate:"required"`
	Total    int               `json:"total" example:"42" validate:"required"`
}

// ExtractResponse wraps the callouts produced by an extraction.
type ExtractResponse struct {
	Callouts []Callout `json:"callouts" validate:"required"`
	Total    int       `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"topics/axioms.md" validate:"required"`
	Line    int    `json:"line" example:"12" validate:"required"`
	Type    string `json:"type" example:"note" validate:"required"`
	Title   string `json:"title,omitempty" example:"Axiom of choice"`
	BlockID string `json:"block_id,omitempty" example:"note-a1b2c3"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// Backlink is one callout that links to the requested target.
type Backlink struct {
	Path  string `json:"path" example:"topics/axioms.md" validate:"required"`
	ID    string `json:"id" example:"note-a1b2c3" validate:"required"`
	Label string `json:"label,omitempty" example:"refines"`
}

// BacklinksResponse wraps backlink results.
type BacklinksResponse struct {
	Backlinks []Backlink `json:"backlinks" validate:"required"`
}

// CanvasListResponse wraps the generated artifact filenames.
type CanvasListResponse struct {
	Canvases []string `json:"canvases" validate:"required"`
}

func toListItems(rows []index.CalloutRow) []CalloutListItem {
	out := make([]CalloutListItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, CalloutListItem{
			Path:     r.Path,
			Line:     r.Line,
			Type:     r.Type,
			Title:    r.Title,
			BlockID:  r.BlockID,
			Modified: r.Modified,
		})
	}
	return out
}

func toSearchResults(rows []index.SearchResult) []SearchResult {
	out := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, SearchResult{
			Path:    r.Path,
			Line:    r.Line,
			Type:    r.Type,
			Title:   r.Title,
			BlockID: r.BlockID,
			Snippet: r.Snippet,
		})
	}
	return out
}

func toBacklinks(rows []index.BacklinkRow) []Backlink {
	out := make([]Backlink, 0, len(rows))
	for _, r := range rows {
		out = append(out, Backlink{Path: r.Path, ID: r.ID, Label: r.Label})
	}
	return out
}
