package media

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/starford/kenaz-import/internal/checksum"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/models"
)

// Sync walks the media directory and brings the registry up to date:
//   - files not yet registered are registered
//   - changed files get their checksum refreshed
//   - registry entries whose file is gone are removed
func (l *Library) Sync(ctx context.Context) error {
	metas, err := l.files.List("")
	if err != nil {
		return err
	}
	known, err := l.repo.MediaChecksums(ctx)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		cs, ok := known[m.Path]
		if ok && cs == m.Checksum {
			continue
		}
		if err := l.registerFile(ctx, m.Path, ok); err != nil {
			l.logger.Warn("sync: register failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("sync: registered", slog.String("path", m.Path))
		}
	}

	for p := range known {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := l.repo.DeleteMediaByFile(ctx, p); err != nil {
			l.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}
	return nil
}

// registerFile records the file at p, updating the entry if one exists.
func (l *Library) registerFile(ctx context.Context, p string, exists bool) error {
	data, err := l.files.Read(p)
	if err != nil {
		return err
	}
	cs := checksum.Sum(data)
	mime := strings.Split(http.DetectContentType(data), ";")[0]
	if exists {
		return l.repo.UpdateMediaChecksum(ctx, p, cs, mime)
	}
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	_, err = l.repo.CreateMedia(ctx, &models.MediaAsset{
		File:     p,
		Title:    stem,
		Slug:     extract.Slugify(stem),
		MimeType: mime,
		Checksum: cs,
	})
	return err
}
