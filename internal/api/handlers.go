package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/calloutservice"
	"github.com/starford/othala/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *calloutservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *calloutservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the document path from the URL (everything after
// /api/documents/). Supports encoded slashes from OpenAPI clients
// (e.g. topics%2Faxioms.md).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListCallouts handles GET /api/callouts.
//
//	@Summary		List indexed callouts with optional pagination and filtering
//	@Tags			callouts
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			type	query		string	false	"Filter by callout type"
//	@Param			sort	query		string	false	"Sort field"	Enums(modified_time, path)
//	@Success		200		{object}	CalloutListResponse
//	@Security		BearerAuth
//	@Router			/callouts [get]
func (h *Handler) ListCallouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	typ := q.Get("type")
	sort := q.Get("sort")

	rows, total, err := h.svc.ListCallouts(r.Context(), limit, offset, typ, sort)
	if err != nil {
		slog.Error("list callouts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callouts": toListItems(rows),
		"total":    total,
	})
}

// GetCallout handles GET /api/callouts/lookup.
//
//	@Summary		Get a single callout by its block reference
//	@Tags			callouts
//	@Produce		json
//	@Param			path	query		string	true	"Document path"
//	@Param			id		query		string	true	"Block identifier"
//	@Success		200		{object}	Callout
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/callouts/lookup [get]
func (h *Handler) GetCallout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := models.Ref{Path: q.Get("path"), ID: q.Get("id")}
	if ref.Path == "" || ref.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and id are required"))
		return
	}
	c, err := h.svc.GetCallout(r.Context(), ref)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get callout failed", slog.String("ref", ref.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ExtractDocument handles GET /api/documents/*.
//
//	@Summary		Extract the callouts of a single document
//	@Tags			callouts
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	ExtractResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) ExtractDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	callouts, err := h.svc.ExtractCurrentDocument(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("extract document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callouts": callouts,
		"total":    len(callouts),
	})
}

// Scan handles POST /api/scan.
//
//	@Summary		Extract callouts from every vault document
//	@Tags			callouts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ScanRequest	false	"Scan options"
//	@Success		200		{object}	ExtractResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}
	callouts, err := h.svc.ExtractAllDocuments(r.Context(), req.ActivePath)
	if err != nil {
		slog.Error("vault scan failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callouts": callouts,
		"total":    len(callouts),
	})
}

// Refresh handles POST /api/refresh.
//
//	@Summary		Force a full vault rescan, bypassing cache validity
//	@Tags			callouts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ScanRequest	false	"Scan options"
//	@Success		200		{object}	ExtractResponse
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}
	callouts, err := h.svc.RefreshAll(r.Context(), req.ActivePath)
	if err != nil {
		slog.Error("vault refresh failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callouts": callouts,
		"total":    len(callouts),
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across indexed callouts
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": toSearchResults(results),
	})
}

// Backlinks handles GET /api/backlinks.
//
//	@Summary		List callouts that link to a block reference
//	@Tags			search
//	@Produce		json
//	@Param			path	query		string	true	"Target document path"
//	@Param			id		query		string	true	"Target block identifier"
//	@Success		200		{object}	BacklinksResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := models.Ref{Path: q.Get("path"), ID: q.Get("id")}
	if ref.Path == "" || ref.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and id are required"))
		return
	}
	rows, err := h.svc.Backlinks(r.Context(), ref)
	if err != nil {
		slog.Error("backlinks failed", slog.String("ref", ref.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backlinks": toBacklinks(rows),
	})
}

// AssignIdentifier handles POST /api/identifiers.
//
//	@Summary		Assign a block identifier to a callout
//	@Tags			identity
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IdentifierRequest	true	"Callout position"
//	@Success		201		{object}	models.Ref
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identifiers [post]
func (h *Handler) AssignIdentifier(w http.ResponseWriter, r *http.Request) {
	var req IdentifierRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	ref, err := h.svc.AssignIdentifier(r.Context(), req.Path, req.Line)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("identifier conflict"))
		default:
			slog.Error("assign identifier failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// BuildGraph handles POST /api/graphs.
//
//	@Summary		Regenerate the relationship graph artifact for a callout
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GraphRequest	true	"Focal callout position"
//	@Success		201		{object}	BuildResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs [post]
func (h *Handler) BuildGraph(w http.ResponseWriter, r *http.Request) {
	var req GraphRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.BuildRelationshipGraph(r.Context(), req.Path, req.Line)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("identifier conflict"))
		case errors.Is(err, apperr.ErrInvalidRef):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid reference"))
		default:
			slog.Error("graph build failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
