package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orcabay/control-plane/gatewayd/internal/artifacts"
)

// ArtifactsHandler implements the U-tier artifact download/delete routes.
type ArtifactsHandler struct {
	store *artifacts.Store
}

func NewArtifactsHandler(s *artifacts.Store) *ArtifactsHandler {
	return &ArtifactsHandler{store: s}
}

// Download handles GET /api/artifacts/:id, streaming the file as an
// attachment with Content-Length (§4.6).
func (h *ArtifactsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rc, contentType, a, err := h.store.Open(r.Context(), id)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// Delete handles DELETE /api/artifacts/:id, idempotent on a missing file.
func (h *ArtifactsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		notFoundOrInternal(w, err)
		return
	}
	NoContent(w)
}
