// Package assets rewrites image and file references embedded in content so
// they point at locally hosted media.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/media"
	"github.com/starford/kenaz-import/internal/models"
)

// DefaultFileExtensions are the linked document types sideloaded by default.
var DefaultFileExtensions = []string{"doc", "docx", "odt", "pdf", "xls", "xlsx", "ods", "ppt", "pptx", "txt"}

// Library is the media store contract.
type Library interface {
	FindByNormalizedName(ctx context.Context, name string) (*models.MediaAsset, bool, error)
	DownloadAndRegister(ctx context.Context, rawURL string, ownerID int64) (*models.MediaAsset, error)
	URL(a *models.MediaAsset) string
	SetAssetMetadata(ctx context.Context, id int64, md media.Metadata) error
}

// Config configures a Resolver.
type Config struct {
	LocalDomain    Domain
	FileExtensions []string
	Concurrency    int
}

// Resolver finds or sideloads every remote asset referenced by a content
// string. Lookups are cached by normalized name for the Resolver's lifetime,
// which is one run.
type Resolver struct {
	lib    Library
	domain Domain
	exts   map[string]struct{}
	limit  int
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*models.MediaAsset
	group singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(lib Library, cfg Config, logger *slog.Logger) *Resolver {
	exts := cfg.FileExtensions
	if len(exts) == 0 {
		exts = DefaultFileExtensions
	}
	r := &Resolver{
		lib:    lib,
		domain: cfg.LocalDomain,
		exts:   make(map[string]struct{}, len(exts)),
		limit:  cfg.Concurrency,
		logger: logger,
		cache:  make(map[string]*models.MediaAsset),
	}
	if r.limit <= 0 {
		r.limit = 4
	}
	for _, e := range exts {
		r.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return r
}

// Resolve runs the image pass and then the linked-file pass over content.
// References that cannot be resolved are left untouched and reported.
func (r *Resolver) Resolve(ctx context.Context, content string, ownerID int64) (string, []models.Failure) {
	content, imgFailures := r.ResolveImages(ctx, content, ownerID)
	content, fileFailures := r.ResolveFiles(ctx, content, ownerID)
	return content, append(imgFailures, fileFailures...)
}

// ResolveImages handles <img> src/srcset URLs and gallery descriptors.
func (r *Resolver) ResolveImages(ctx context.Context, content string, ownerID int64) (string, []models.Failure) {
	galleries := extract.Galleries(content)
	urls := extract.Unique(extract.Images(content))
	for _, g := range galleries {
		urls = append(urls, g.Image.URL)
	}
	urls = r.candidates(dedupe(urls))
	if len(urls) == 0 && len(galleries) == 0 {
		return content, nil
	}

	resolved, failures := r.resolveAll(ctx, urls, ownerID)

	replacements := make(map[string]string, len(resolved)+len(galleries))
	values := make([]string, 0, len(resolved))
	for u, a := range resolved {
		replacements[u] = r.lib.URL(a)
		values = append(values, u)
	}
	spans := extract.Occurrences(content, values)

	for _, g := range galleries {
		a, ok := resolved[g.Image.URL]
		if !ok {
			continue
		}
		replacements[g.Span.Value] = strconv.FormatInt(a.ID, 10)
		spans = append(spans, g.Span)
		md := media.Metadata{
			Title:       g.Image.Title,
			Caption:     g.Image.Caption,
			Alt:         g.Image.Alt,
			Description: g.Image.Description,
		}
		if err := r.lib.SetAssetMetadata(ctx, a.ID, md); err != nil {
			r.logger.Warn("assets: set metadata failed",
				slog.Int64("asset_id", a.ID),
				slog.String("error", err.Error()))
		}
	}

	return extract.Rewrite(content, spans, replacements), failures
}

// ResolveFiles handles anchor hrefs whose extension is on the allow-list.
func (r *Resolver) ResolveFiles(ctx context.Context, content string, ownerID int64) (string, []models.Failure) {
	var urls []string
	for _, href := range extract.Unique(extract.Links(content)) {
		if _, ok := r.exts[extract.LinkExtension(href)]; ok {
			urls = append(urls, href)
		}
	}
	urls = r.candidates(urls)
	if len(urls) == 0 {
		return content, nil
	}

	resolved, failures := r.resolveAll(ctx, urls, ownerID)
	replacements := make(map[string]string, len(resolved))
	values := make([]string, 0, len(resolved))
	for u, a := range resolved {
		replacements[u] = r.lib.URL(a)
		values = append(values, u)
	}
	return extract.Rewrite(content, extract.Occurrences(content, values), replacements), failures
}

// candidates drops local and non-fetchable URLs.
func (r *Resolver) candidates(urls []string) []string {
	out := urls[:0:0]
	for _, u := range urls {
		if r.domain.IsLocal(u) || !isRemote(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// resolveAll resolves distinct URLs with bounded concurrency.
func (r *Resolver) resolveAll(ctx context.Context, urls []string, ownerID int64) (map[string]*models.MediaAsset, []models.Failure) {
	assets := make([]*models.MediaAsset, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, u := range urls {
		g.Go(func() error {
			assets[i], errs[i] = r.resolveOne(ctx, u, ownerID)
			return nil
		})
	}
	_ = g.Wait()

	resolved := make(map[string]*models.MediaAsset, len(urls))
	var failures []models.Failure
	for i, u := range urls {
		if errs[i] != nil {
			r.logger.Warn("assets: unresolved reference",
				slog.String("url", u),
				slog.Int64("owner_id", ownerID),
				slog.String("error", errs[i].Error()))
			failures = append(failures, models.Failure{Subject: u, Reason: errs[i].Error()})
			continue
		}
		resolved[u] = assets[i]
	}
	return resolved, failures
}

func (r *Resolver) resolveOne(ctx context.Context, rawURL string, ownerID int64) (*models.MediaAsset, error) {
	name := extract.NormalizedName(rawURL)
	key := name
	if key == "" {
		key = rawURL
	}

	r.mu.Lock()
	if a, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		if name != "" {
			a, found, err := r.lib.FindByNormalizedName(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("assets: lookup %s: %w: %v", name, apperr.ErrAssetFetch, err)
			}
			if found {
				return a, nil
			}
		}
		a, err := r.lib.DownloadAndRegister(ctx, rawURL, ownerID)
		if err != nil {
			if !errors.Is(err, apperr.ErrAssetFetch) {
				err = fmt.Errorf("assets: %w: %v", apperr.ErrAssetFetch, err)
			}
			return nil, err
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	a := v.(*models.MediaAsset)

	r.mu.Lock()
	r.cache[key] = a
	r.mu.Unlock()
	return a, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
