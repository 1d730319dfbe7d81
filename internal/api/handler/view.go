package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/mediaforge/internal/api/response"
	"github.com/kiranshivaraju/mediaforge/internal/artifact"
)

// NewViewHandler returns an http.HandlerFunc for GET /view?filename=.
func NewViewHandler(store artifact.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("filename")
		if name == "" {
			response.Error(w, http.StatusBadRequest, "invalid request", "filename is required")
			return
		}

		a, err := store.Open(r.Context(), name)
		if err != nil {
			switch {
			case errors.Is(err, artifact.ErrInvalidName):
				response.Error(w, http.StatusBadRequest, "invalid filename", err.Error())
			case errors.Is(err, artifact.ErrNotFound):
				response.Error(w, http.StatusNotFound, "not found", "no such file")
			default:
				slog.Error("opening artifact", "filename", name, "error", err)
				response.Error(w, http.StatusInternalServerError, "internal error", "an unexpected error occurred")
			}
			return
		}
		defer a.Close()

		h := w.Header()
		h.Set("Content-Type", a.ContentType)
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
		if a.Digest != "" {
			etag := `"` + a.Digest + `"`
			h.Set("ETag", etag)
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		h.Set("Content-Length", strconv.FormatInt(a.Size, 10))
		w.WriteHeader(http.StatusOK)

		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, a); err != nil {
			slog.Warn("streaming artifact", "filename", name, "error", err)
		}
	}
}
