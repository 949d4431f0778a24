package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ArtifactHandler serves generated canvas artifacts. Artifacts are only
// ever produced by graph builds; there is no upload path.
type ArtifactHandler struct {
	vaultRoot string
	canvasDir string
}

// NewArtifactHandler creates a handler rooted at the vault's canvas
// directory.
func NewArtifactHandler(vaultRoot, canvasDir string) *ArtifactHandler {
	return &ArtifactHandler{vaultRoot: vaultRoot, canvasDir: canvasDir}
}

// dirPath returns the absolute path to the canvas directory.
func (h *ArtifactHandler) dirPath() string {
	return filepath.Join(h.vaultRoot, h.canvasDir)
}

// safeName validates that the filename is a plain .canvas name (no path
// separators, no traversal) and returns its absolute path.
func (h *ArtifactHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if filepath.Ext(cleaned) != ".canvas" {
		return "", fmt.Errorf("not a canvas file: %s", name)
	}
	abs := filepath.Join(h.dirPath(), cleaned)
	if !strings.HasPrefix(abs, h.dirPath()+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes canvas directory")
	}
	return abs, nil
}

// List handles GET /api/canvases.
//
//	@Summary		List generated canvas artifacts
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	CanvasListResponse
//	@Security		BearerAuth
//	@Router			/canvases [get]
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.dirPath())
	if err != nil && !os.IsNotExist(err) {
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".canvas" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"canvases": names})
}

// ServeFile handles GET /api/canvases/{filename}.
//
//	@Summary		Download a generated canvas artifact
//	@Tags			graph
//	@Produce		json
//	@Param			filename	path	string	true	"Artifact filename"
//	@Success		200	{object}	canvas.File
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvases/{filename} [get]
func (h *ArtifactHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	abs, err := h.safeName(filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	// Canvas artifacts are JSON; ServeFile would sniff them as text.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	http.ServeFile(w, r, abs)
}
