// Package media manages the local media library: lookup of existing assets,
// sideloading of remote ones, and keeping the registry in step with the
// media directory.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/checksum"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/storage"
)

// Repo is the media registry the library keeps its records in.
type Repo interface {
	CreateMedia(ctx context.Context, m *models.MediaAsset) (int64, error)
	ClaimMedia(ctx context.Context, file, sourceURL string, parentID int64, mimeType string) (*models.MediaAsset, error)
	GetMedia(ctx context.Context, id int64) (*models.MediaAsset, error)
	MediaByName(ctx context.Context, name string) (*models.MediaAsset, error)
	MediaByTitle(ctx context.Context, title, slug, mimePrefix string) (*models.MediaAsset, error)
	MediaByChecksum(ctx context.Context, checksum string) (*models.MediaAsset, error)
	UpdateMediaMetadata(ctx context.Context, id int64, title, caption, alt, description string) error
	MediaChecksums(ctx context.Context) (map[string]string, error)
	UpdateMediaChecksum(ctx context.Context, file, checksum, mimeType string) error
	DeleteMediaByFile(ctx context.Context, file string) error
}

// Metadata is the descriptive side-channel carried by gallery descriptors.
type Metadata struct {
	Title       string
	Caption     string
	Alt         string
	Description string
}

var mimeToExt = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/svg+xml":   ".svg",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// Library is the media store contract implementation.
type Library struct {
	repo    Repo
	files   storage.Provider
	fetch   Downloader
	baseURL string
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
	mu    sync.Mutex
}

// NewLibrary creates a media library over repo and the media directory.
func NewLibrary(repo Repo, files storage.Provider, fetch Downloader, baseURL string, logger *slog.Logger) *Library {
	return &Library{
		repo:    repo,
		files:   files,
		fetch:   fetch,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// URL returns the public URL of an asset.
func (l *Library) URL(a *models.MediaAsset) string {
	return l.baseURL + "/" + a.File
}

// Get returns an asset by id.
func (l *Library) Get(ctx context.Context, id int64) (*models.MediaAsset, error) {
	return l.repo.GetMedia(ctx, id)
}

// SetAssetMetadata writes the non-empty fields of md onto an asset.
func (l *Library) SetAssetMetadata(ctx context.Context, id int64, md Metadata) error {
	return l.repo.UpdateMediaMetadata(ctx, id, md.Title, md.Caption, md.Alt, md.Description)
}

// FindByNormalizedName looks an asset up by its normalized file name. The
// search runs from exact to loose: stored name and its "-scaled" variant,
// the same for the generically sanitized name, title or slug among images,
// and finally a file already present in the current upload directory,
// matched by content checksum. Such a file with no registry entry is
// removed so a fresh download can take its place.
func (l *Library) FindByNormalizedName(ctx context.Context, name string) (*models.MediaAsset, bool, error) {
	if name == "" {
		return nil, false, nil
	}
	candidates := []string{name, scaledName(name)}
	if generic := extract.SanitizeName(name); generic != name && generic != "" {
		candidates = append(candidates, generic, scaledName(generic))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		a, err := l.repo.MediaByName(ctx, c)
		if err == nil {
			return a, true, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, err
		}
	}

	stem := strings.TrimSuffix(name, path.Ext(name))
	a, err := l.repo.MediaByTitle(ctx, stem, extract.Slugify(stem), "image/")
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	return l.findOnDisk(ctx, path.Join(l.uploadDir(), name))
}

func (l *Library) findOnDisk(ctx context.Context, p string) (*models.MediaAsset, bool, error) {
	if !l.files.Exists(p) {
		return nil, false, nil
	}
	data, err := l.files.Read(p)
	if err != nil {
		return nil, false, nil //nolint:nilerr // unreadable file behaves like a miss
	}
	a, err := l.repo.MediaByChecksum(ctx, checksum.Sum(data))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	if delErr := l.files.Delete(p); delErr != nil {
		l.logger.Warn("media: remove orphan failed", slog.String("path", p), slog.String("error", delErr.Error()))
	} else {
		l.logger.Debug("media: removed orphan", slog.String("path", p))
	}
	return nil, false, nil
}

// DownloadAndRegister fetches rawURL, stores it in the media directory and
// registers it as an asset owned by ownerID. Concurrent calls for one URL
// share a single download.
func (l *Library) DownloadAndRegister(ctx context.Context, rawURL string, ownerID int64) (*models.MediaAsset, error) {
	v, err, _ := l.group.Do(rawURL, func() (any, error) {
		return l.download(ctx, rawURL, ownerID)
	})
	if err != nil {
		return nil, err
	}
	a := *v.(*models.MediaAsset)
	return &a, nil
}

func (l *Library) download(ctx context.Context, rawURL string, ownerID int64) (*models.MediaAsset, error) {
	d, err := l.fetch.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("media: fetch %s: %w: %v", rawURL, apperr.ErrAssetFetch, err)
	}

	name := extract.NormalizedName(rawURL)
	if name == "" || extract.FileExtension(name) == "" {
		name = fallbackName(d)
	}

	p, err := l.reserve(name, d.Data)
	if err != nil {
		return nil, fmt.Errorf("media: store %s: %w: %v", name, apperr.ErrAssetFetch, err)
	}

	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	a := &models.MediaAsset{
		File:      p,
		Title:     stem,
		Slug:      extract.Slugify(stem),
		MimeType:  d.MimeType,
		Checksum:  checksum.Sum(d.Data),
		SourceURL: rawURL,
		ParentID:  ownerID,
	}
	if _, err := l.repo.CreateMedia(ctx, a); err != nil {
		if !errors.Is(err, apperr.ErrAlreadyExists) {
			_ = l.files.Delete(p)
			return nil, fmt.Errorf("media: register %s: %w: %v", p, apperr.ErrAssetFetch, err)
		}
		// The directory watcher registered the file first.
		claimed, cerr := l.repo.ClaimMedia(ctx, p, rawURL, ownerID, d.MimeType)
		if cerr != nil {
			return nil, fmt.Errorf("media: claim %s: %w: %v", p, apperr.ErrAssetFetch, cerr)
		}
		a = claimed
	}
	l.logger.Info("media: downloaded",
		slog.String("url", rawURL),
		slog.String("file", p),
		slog.Int64("id", a.ID))
	return a, nil
}

// reserve writes data under a free name in the current upload directory.
func (l *Library) reserve(name string, data []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.uploadDir()
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	p := path.Join(dir, name)
	for i := 1; l.files.Exists(p); i++ {
		p = path.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
	}
	if err := l.files.Write(p, data); err != nil {
		return "", err
	}
	return p, nil
}

func (l *Library) uploadDir() string {
	return l.now().Format("2006/01")
}

func scaledName(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.TrimSuffix(name, ext) + "-scaled" + ext
}

// fallbackName builds a file name for URLs with no usable basename.
func fallbackName(d *Download) string {
	ext := mimeToExt[d.MimeType]
	if ext == "" {
		ext = mimeToExt[strings.Split(http.DetectContentType(d.Data), ";")[0]]
	}
	if ext == "" {
		ext = ".bin"
	}
	return uuid.New().String() + ext
}
