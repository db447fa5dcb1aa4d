package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"
)

const mediaColumns = `id, file, title, slug, caption, alt, description, mime_type, checksum, source_url, parent_id, created_at`

func scanMedia(row interface{ Scan(...any) error }) (*models.MediaAsset, error) {
	var m models.MediaAsset
	err := row.Scan(&m.ID, &m.File, &m.Title, &m.Slug, &m.Caption, &m.Alt, &m.Description,
		&m.MimeType, &m.Checksum, &m.SourceURL, &m.ParentID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) mediaWhere(ctx context.Context, where string, args ...any) (*models.MediaAsset, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE `+where+` ORDER BY id LIMIT 1`, args...)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get media: %w", err)
	}
	return m, nil
}

// CreateMedia registers a media file and returns its id.
func (db *DB) CreateMedia(ctx context.Context, m *models.MediaAsset) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO media (file, title, slug, caption, alt, description, mime_type, checksum, source_url, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.File, m.Title, m.Slug, m.Caption, m.Alt, m.Description, m.MimeType, m.Checksum, m.SourceURL, m.ParentID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("store: create media %q: %w", m.File, apperr.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("store: create media: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create media id: %w", err)
	}
	m.ID = id
	return id, nil
}

// ClaimMedia attaches a download origin to an already registered file and
// returns the updated asset.
func (db *DB) ClaimMedia(ctx context.Context, file, sourceURL string, parentID int64, mimeType string) (*models.MediaAsset, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE media SET
			source_url = ?,
			parent_id  = ?,
			mime_type  = CASE WHEN ? != '' THEN ? ELSE mime_type END
		WHERE file = ?
	`, sourceURL, parentID, mimeType, mimeType, file)
	if err != nil {
		return nil, fmt.Errorf("store: claim media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("store: claim media %q: %w", file, apperr.ErrNotFound)
	}
	return db.mediaWhere(ctx, `file = ?`, file)
}

// GetMedia returns a media asset by id.
func (db *DB) GetMedia(ctx context.Context, id int64) (*models.MediaAsset, error) {
	m, err := db.mediaWhere(ctx, `id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: media %d: %w", id, err)
	}
	return m, nil
}

// MediaByName finds a media file whose stored path is name or ends in "/"+name.
func (db *DB) MediaByName(ctx context.Context, name string) (*models.MediaAsset, error) {
	return db.mediaWhere(ctx, `file = ? OR file LIKE ? ESCAPE '\'`, name, "%/"+escapeLike(name))
}

// MediaByTitle finds a media asset whose title or slug matches, restricted
// to mime types starting with mimePrefix.
func (db *DB) MediaByTitle(ctx context.Context, title, slug, mimePrefix string) (*models.MediaAsset, error) {
	return db.mediaWhere(ctx, `(title = ? OR slug = ?) AND mime_type LIKE ? ESCAPE '\'`,
		title, slug, escapeLike(mimePrefix)+"%")
}

// MediaByChecksum finds a media asset with identical content.
func (db *DB) MediaByChecksum(ctx context.Context, checksum string) (*models.MediaAsset, error) {
	if checksum == "" {
		return nil, apperr.ErrNotFound
	}
	return db.mediaWhere(ctx, `checksum = ?`, checksum)
}

// UpdateMediaMetadata writes the non-empty descriptive fields onto an asset.
func (db *DB) UpdateMediaMetadata(ctx context.Context, id int64, title, caption, alt, description string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE media SET
			title       = CASE WHEN ? != '' THEN ? ELSE title END,
			caption     = CASE WHEN ? != '' THEN ? ELSE caption END,
			alt         = CASE WHEN ? != '' THEN ? ELSE alt END,
			description = CASE WHEN ? != '' THEN ? ELSE description END
		WHERE id = ?
	`, title, title, caption, caption, alt, alt, description, description, id)
	if err != nil {
		return fmt.Errorf("store: update media metadata: %w", err)
	}
	return nil
}

// MediaChecksums returns file -> checksum for every registered media file.
func (db *DB) MediaChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT file, checksum FROM media`)
	if err != nil {
		return nil, fmt.Errorf("store: media checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var f, cs string
		if err := rows.Scan(&f, &cs); err != nil {
			return nil, err
		}
		out[f] = cs
	}
	return out, rows.Err()
}

// UpdateMediaChecksum records new content for a registered file.
func (db *DB) UpdateMediaChecksum(ctx context.Context, file, checksum, mimeType string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE media SET checksum = ?, mime_type = ? WHERE file = ?`, checksum, mimeType, file)
	if err != nil {
		return fmt.Errorf("store: update media checksum: %w", err)
	}
	return nil
}

// DeleteMediaByFile unregisters a media file.
func (db *DB) DeleteMediaByFile(ctx context.Context, file string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM media WHERE file = ?`, file); err != nil {
		return fmt.Errorf("store: delete media: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
