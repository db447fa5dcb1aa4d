// Package mapper turns raw external rows into a normalized import batch.
package mapper

import (
	"fmt"
	"strings"

	"github.com/starford/kenaz-import/internal/content"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/source"
)

// Taxonomies the batch groups categories and tags under.
const (
	TaxonomyCategory = "category"
	TaxonomyTag      = "post_tag"
)

// Mapper maps raw rows to a batch. Implementations must not perform I/O.
type Mapper interface {
	Map(rows []source.Row, kind string) (*models.NormalizedBatch, error)
}

// ColumnMapper is the configuration-driven Mapper.
type ColumnMapper struct {
	cfg Config
}

var _ Mapper = (*ColumnMapper)(nil)

// NewColumnMapper validates cfg and returns a mapper.
func NewColumnMapper(cfg Config) (*ColumnMapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mapper: %w", err)
	}
	return &ColumnMapper{cfg: cfg}, nil
}

// Map maps every row. A row without the external id column fails the
// whole batch since it means the query does not match the mapping.
func (m *ColumnMapper) Map(rows []source.Row, kind string) (*models.NormalizedBatch, error) {
	batch := &models.NormalizedBatch{}
	for i, row := range rows {
		if _, ok := row[m.cfg.ExternalID]; !ok {
			return nil, fmt.Errorf("mapper: row %d: missing external id column %q", i+1, m.cfg.ExternalID)
		}
		batch.Posts = append(batch.Posts, m.mapRow(row, kind))
	}
	derive(batch)
	return batch, nil
}

func (m *ColumnMapper) mapRow(row source.Row, kind string) models.ExternalRecord {
	rec := models.ExternalRecord{
		ExternalID: strings.TrimSpace(row.String(m.cfg.ExternalID)),
		Kind:       kind,
	}
	for name, col := range m.cfg.Fields {
		m.setField(&rec.Fields, name, row, col)
	}

	if m.cfg.CleanHTML && rec.Fields.Body != "" {
		if cleaned, err := content.Clean(rec.Fields.Body); err == nil {
			rec.Fields.Body = cleaned
		}
	}
	if m.cfg.WrapParagraphs && rec.Fields.Body != "" {
		rec.Fields.Body = content.Paragraphs(rec.Fields.Body)
	}

	for _, tc := range m.cfg.Terms {
		sep := tc.Separator
		if sep == "" {
			sep = ","
		}
		var names []string
		for _, n := range strings.Split(row.String(tc.Column), sep) {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if len(names) > 0 {
			rec.Terms = append(rec.Terms, models.TaxonomyTerms{Taxonomy: tc.Taxonomy, Names: names})
		}
	}

	for _, mc := range m.cfg.Meta {
		if _, ok := row[mc.Column]; !ok {
			continue
		}
		rec.Meta = append(rec.Meta, models.MetaPair{Key: mc.Key, Value: row.String(mc.Column)})
	}

	if m.cfg.RedirectSource != "" {
		rec.RedirectSource = strings.TrimSpace(row.String(m.cfg.RedirectSource))
	}
	return rec
}

func (m *ColumnMapper) setField(f *models.Fields, name string, row source.Row, col string) {
	switch name {
	case "title":
		f.Title = strings.TrimSpace(row.String(col))
	case "body":
		f.Body = row.String(col)
	case "excerpt":
		f.Excerpt = row.String(col)
	case "status":
		f.Status = row.String(col)
	case "slug":
		f.Slug = row.String(col)
	case "date":
		if t, ok := row.Time(col, m.cfg.DateLayout); ok {
			f.Date = t
		}
	case "date_gmt":
		if t, ok := row.Time(col, m.cfg.DateLayout); ok {
			f.DateGMT = t.UTC()
		}
	case "parent":
		if n, ok := row.Int(col); ok {
			f.Parent = n
		}
	case "menu_order":
		if n, ok := row.Int(col); ok {
			f.MenuOrder = int(n)
		}
	case "password":
		f.Password = row.String(col)
	case "author":
		f.Author = strings.TrimSpace(row.String(col))
	case "comment_status":
		f.CommentStatus = row.String(col)
	case "guid":
		f.GUID = row.String(col)
	}
}

// derive fills the author and term groups from the mapped posts, distinct
// and in first-seen order.
func derive(b *models.NormalizedBatch) {
	authors := make(map[string]struct{})
	terms := make(map[string]struct{})
	for _, p := range b.Posts {
		if a := p.Fields.Author; a != "" {
			if _, seen := authors[a]; !seen {
				authors[a] = struct{}{}
				b.Authors = append(b.Authors, models.Author{Login: a})
			}
		}
		for _, tt := range p.Terms {
			for _, name := range tt.Names {
				key := tt.Taxonomy + "\x00" + name
				if _, seen := terms[key]; seen {
					continue
				}
				terms[key] = struct{}{}
				def := models.TermDef{Taxonomy: tt.Taxonomy, Name: name}
				switch tt.Taxonomy {
				case TaxonomyCategory:
					b.Categories = append(b.Categories, def)
				case TaxonomyTag:
					b.Tags = append(b.Tags, def)
				default:
					b.Terms = append(b.Terms, def)
				}
			}
		}
	}
}
