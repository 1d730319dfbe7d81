package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/mediaforge/internal/api/handler"
	"github.com/kiranshivaraju/mediaforge/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Put(context.Context, string, string, []byte) (*artifact.Info, error) {
	return nil, errors.New("read-only")
}

func (failingStore) Open(context.Context, string) (*artifact.Artifact, error) {
	return nil, errors.New("io error")
}

func newViewStore(t *testing.T) *artifact.FSStore {
	t.Helper()
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "output_j1.mp4", "video/mp4", []byte("fake mp4 bytes"))
	require.NoError(t, err)
	return store
}

func TestViewHandler_Serves(t *testing.T) {
	store := newViewStore(t)

	rec := get(handler.NewViewHandler(store), "/view?filename=output_j1.mp4")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake mp4 bytes", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "14", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename=output_j1.mp4`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, `"`+artifact.Digest([]byte("fake mp4 bytes"))+`"`, rec.Header().Get("ETag"))
}

func TestViewHandler_NotModified(t *testing.T) {
	h := handler.NewViewHandler(newViewStore(t))

	first := get(h, "/view?filename=output_j1.mp4")
	require.Equal(t, http.StatusOK, first.Code)

	req := httptest.NewRequest(http.MethodGet, "/view?filename=output_j1.mp4", nil)
	req.Header.Set("If-None-Match", first.Header().Get("ETag"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestViewHandler_Errors(t *testing.T) {
	h := handler.NewViewHandler(newViewStore(t))

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing filename", "/view", http.StatusBadRequest},
		{"traversal", "/view?filename=../../etc/passwd", http.StatusBadRequest},
		{"absolute", "/view?filename=/etc/passwd", http.StatusBadRequest},
		{"encoded separator", "/view?filename=a%2Fb.mp4", http.StatusBadRequest},
		{"dot dot", "/view?filename=..", http.StatusBadRequest},
		{"unknown", "/view?filename=output_nope.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, tt.path)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestViewHandler_StoreFailure(t *testing.T) {
	rec := get(handler.NewViewHandler(failingStore{}), "/view?filename=x.mp4")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "io error")
}
