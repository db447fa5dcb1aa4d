// Package testutil provides shared test helpers for stores, media libraries
// and remote asset servers.
package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/starford/kenaz-import/internal/media"
	"github.com/starford/kenaz-import/internal/storage"
	"github.com/starford/kenaz-import/internal/store"
)

// PNG is a payload served for every .png path by AssetServer.
var PNG = []byte("\x89PNG\r\n\x1a\n0000fake-png-body")

// PDF is a payload served for every .pdf path by AssetServer.
var PDF = []byte("%PDF-1.4\n%fake\n")

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestStore creates a temporary content store that is automatically closed.
// Kinds and taxonomies default to post/page and category/post_tag.
func TestStore(t *testing.T, opts store.Options) *store.DB {
	t.Helper()
	if len(opts.Kinds) == 0 {
		opts.Kinds = []string{"post", "page"}
	}
	if len(opts.Taxonomies) == 0 {
		opts.Taxonomies = []string{"category", "post_tag"}
	}
	if opts.HomeURL == "" {
		opts.HomeURL = "https://new.example.com"
	}
	db, err := store.Open(filepath.Join(t.TempDir(), "store.db"), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMedia creates a media library over a temporary directory.
func TestMedia(t *testing.T, db *store.DB) (*media.Library, storage.Provider) {
	t.Helper()
	files, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetch := media.NewFetcher(media.FetchConfig{AllowPrivateHosts: true})
	return media.NewLibrary(db, files, fetch, "https://new.example.com/media", Logger()), files
}

// AssetServer serves PNG for *.png paths, PDF for *.pdf paths and 404
// otherwise. hits, when non-nil, counts requests.
func AssetServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(PNG)
		case strings.HasSuffix(r.URL.Path, ".pdf"):
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(PDF)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
