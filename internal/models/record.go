// Package models defines the domain types shared by the import pipeline.
package models

import "time"

// Fields is the explicit optional-field schema of an external record.
// Zero values mean "not provided" and are filled from kind defaults.
type Fields struct {
	Title         string    `json:"title,omitempty" yaml:"title,omitempty"`
	Body          string    `json:"body,omitempty" yaml:"body,omitempty"`
	Excerpt       string    `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Status        string    `json:"status,omitempty" yaml:"status,omitempty"`
	Slug          string    `json:"slug,omitempty" yaml:"slug,omitempty"`
	Date          time.Time `json:"date,omitempty" yaml:"date,omitempty"`
	DateGMT       time.Time `json:"date_gmt,omitempty" yaml:"date_gmt,omitempty"`
	Parent        int64     `json:"parent,omitempty" yaml:"parent,omitempty"`
	MenuOrder     int       `json:"menu_order,omitempty" yaml:"menu_order,omitempty"`
	Password      string    `json:"password,omitempty" yaml:"password,omitempty"`
	Author        string    `json:"author,omitempty" yaml:"author,omitempty"`
	CommentStatus string    `json:"comment_status,omitempty" yaml:"comment_status,omitempty"`
	GUID          string    `json:"guid,omitempty" yaml:"guid,omitempty"`
}

// MetaPair is one metadata key/value pair. Order is preserved.
type MetaPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TaxonomyTerms holds the ordered term names for one taxonomy.
type TaxonomyTerms struct {
	Taxonomy string   `json:"taxonomy"`
	Names    []string `json:"names"`
}

// ExternalRecord is one source row after mapping.
type ExternalRecord struct {
	ExternalID     string          `json:"external_id"`
	Kind           string          `json:"kind"`
	Fields         Fields          `json:"fields"`
	Terms          []TaxonomyTerms `json:"terms,omitempty"`
	Meta           []MetaPair      `json:"meta,omitempty"`
	RedirectSource string          `json:"redirect_source,omitempty"`
}

// Clone returns a deep copy so stages can mutate without touching the batch.
func (r ExternalRecord) Clone() ExternalRecord {
	out := r
	if r.Terms != nil {
		out.Terms = make([]TaxonomyTerms, len(r.Terms))
		for i, t := range r.Terms {
			out.Terms[i] = TaxonomyTerms{Taxonomy: t.Taxonomy, Names: append([]string(nil), t.Names...)}
		}
	}
	if r.Meta != nil {
		out.Meta = append([]MetaPair(nil), r.Meta...)
	}
	return out
}

// Author is a content author referenced by mapped records.
type Author struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name,omitempty"`
}

// TermDef declares a term the batch expects to exist.
type TermDef struct {
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
	Slug     string `json:"slug,omitempty"`
}

// NormalizedBatch is the mapper output for one run.
type NormalizedBatch struct {
	Authors    []Author         `json:"authors"`
	Posts      []ExternalRecord `json:"posts"`
	Categories []TermDef        `json:"categories"`
	Tags       []TermDef        `json:"tags"`
	Terms      []TermDef        `json:"terms"`
}

// DeferredReference is a cross-record pointer resolved after the per-record pass.
type DeferredReference struct {
	LocalID       int64  `json:"local_id"`
	RefExternalID string `json:"ref_external_id"`
	Field         string `json:"field"`
}

// IdentityEntry is one external id to local id mapping.
type IdentityEntry struct {
	ExternalID string `json:"external_id"`
	LocalID    int64  `json:"local_id"`
}
