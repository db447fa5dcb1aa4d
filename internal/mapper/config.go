package mapper

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Field names a column may be mapped to.
var FieldNames = []string{
	"title", "body", "excerpt", "status", "slug", "date", "date_gmt",
	"parent", "menu_order", "password", "author", "comment_status", "guid",
}

// TermColumn maps a column holding separated term names to a taxonomy.
type TermColumn struct {
	Taxonomy  string `yaml:"taxonomy"`
	Column    string `yaml:"column"`
	Separator string `yaml:"separator"`
}

// Validate validates the term column.
func (c TermColumn) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Taxonomy, validation.Required),
		validation.Field(&c.Column, validation.Required),
	)
}

// MetaColumn maps a column to a metadata key.
type MetaColumn struct {
	Key    string `yaml:"key"`
	Column string `yaml:"column"`
}

// Validate validates the meta column.
func (c MetaColumn) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
		validation.Field(&c.Column, validation.Required),
	)
}

// Config drives the column mapper.
type Config struct {
	ExternalID     string            `yaml:"external_id"`
	Fields         map[string]string `yaml:"fields"`
	Terms          []TermColumn      `yaml:"terms"`
	Meta           []MetaColumn      `yaml:"meta"`
	RedirectSource string            `yaml:"redirect_source"`
	DateLayout     string            `yaml:"date_layout"`
	CleanHTML      bool              `yaml:"clean_html"`
	WrapParagraphs bool              `yaml:"wrap_paragraphs"`
}

// Validate validates the mapping configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ExternalID, validation.Required),
		validation.Field(&c.Fields, validation.By(validFieldNames)),
		validation.Field(&c.Terms),
		validation.Field(&c.Meta),
	)
}

func validFieldNames(value any) error {
	fields, _ := value.(map[string]string)
	for name, col := range fields {
		known := false
		for _, f := range FieldNames {
			if f == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown field %q", name)
		}
		if col == "" {
			return errors.New("column for field " + name + " is empty")
		}
	}
	return nil
}
