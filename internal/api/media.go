package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Registrar registers files written into the media directory.
type Registrar interface {
	Sync(ctx context.Context) error
}

// MediaHandler serves and accepts media files.
type MediaHandler struct {
	files storage.Provider
	lib   Registrar
	now   func() time.Time
}

// NewMediaHandler creates a handler over the media directory.
func NewMediaHandler(files storage.Provider, lib Registrar) *MediaHandler {
	return &MediaHandler{files: files, lib: lib, now: time.Now}
}

// safePath validates a slash separated relative path and returns its
// absolute location under the media root.
func (h *MediaHandler) safePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	cleaned := path.Clean("/" + rel)
	if strings.Contains(rel, "..") || cleaned == "/" {
		return "", fmt.Errorf("invalid path: %s", rel)
	}
	root := h.files.Root()
	abs := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes media directory")
	}
	return abs, nil
}

// ServeFile handles GET /media/*.
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	abs, err := h.safePath(rel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.files.Exists(strings.TrimPrefix(path.Clean("/"+rel), "/")) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/media (multipart/form-data, field "file").
//
//	@Summary		Upload a media file and register it
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		201		{object}	MediaUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/media [post]
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name := extract.SanitizeFilename(filepath.Base(header.Filename))
	if name == "" || extract.FileExtension(name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid filename"))
		return
	}
	rel := path.Join(h.now().Format("2006/01"), name)
	if h.files.Exists(rel) {
		writeJSON(w, http.StatusConflict, errorBody("file already exists"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	if err := h.files.Write(rel, data); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}
	if h.lib != nil {
		if err := h.lib.Sync(r.Context()); err != nil {
			slog.Warn("media sync after upload failed", slog.String("file", rel), slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusCreated, MediaUploadResponse{
		File: rel,
		Size: int64(len(data)),
		URL:  "/media/" + rel,
	})
}
