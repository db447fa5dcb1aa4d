package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/kenaz-import/internal/assets"
	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/redirect"
	"github.com/starford/kenaz-import/internal/source"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig        `yaml:"app"`
	Source   SourceConfig             `yaml:"source"`
	Store    StoreConfig              `yaml:"store"`
	Media    MediaConfig              `yaml:"media"`
	Import   ImportConfig             `yaml:"import"`
	Mapping  map[string]mapper.Config `yaml:"mapping"`
	Redirect RedirectConfig           `yaml:"redirect"`
	Auth     AuthConfig               `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	if err := c.Import.Validate(); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	for kind := range c.Source.Queries {
		m, ok := c.Mapping[kind]
		if !ok {
			return fmt.Errorf("mapping: no mapping for kind %q", kind)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mapping: %s: %w", kind, err)
		}
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// Debug puts full error chains into run report reasons.
	Debug bool       `yaml:"debug"`
	HTTP  HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SourceConfig describes the external database and one query per kind.
type SourceConfig struct {
	Driver  string            `yaml:"driver"`
	DSN     string            `yaml:"dsn"`
	Queries map[string]string `yaml:"queries"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	drivers := make([]any, len(source.Drivers))
	for i, d := range source.Drivers {
		drivers[i] = d
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(drivers...)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.Queries, validation.Required),
	)
}

// Query returns the configured query for kind.
func (c *SourceConfig) Query(kind string) (string, bool) {
	q, ok := c.Queries[kind]
	return q, ok && q != ""
}

// StoreConfig holds the content store database and its registered model.
type StoreConfig struct {
	Path       string   `yaml:"path"`
	HomeURL    string   `yaml:"home_url"`
	Kinds      []string `yaml:"kinds"`
	Taxonomies []string `yaml:"taxonomies"`
	// Redirects provisions the redirect rule tables.
	Redirects bool `yaml:"redirects"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.HomeURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Kinds, validation.Required),
	)
}

// MediaConfig holds the media directory and sideloading limits.
type MediaConfig struct {
	Dir               string        `yaml:"dir"`
	BaseURL           string        `yaml:"base_url"`
	LocalDomain       string        `yaml:"local_domain"`
	AllowedFileExt    []string      `yaml:"allowed_file_ext"`
	Concurrency       int           `yaml:"concurrency"`
	MaxBytes          int64         `yaml:"max_bytes"`
	Timeout           time.Duration `yaml:"timeout"`
	AllowPrivateHosts bool          `yaml:"allow_private_hosts"`
	Watch             bool          `yaml:"watch"`
}

// Validate validates the media configuration. An empty local domain is
// taken from the base URL; a set one must cover the base URL.
func (c *MediaConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(64)),
		validation.Field(&c.MaxBytes, validation.Min(int64(0))),
	); err != nil {
		return err
	}
	c.LocalDomain = string(c.Domain())
	if !c.Domain().IsLocal(c.BaseURL) {
		return fmt.Errorf("local_domain %q does not cover base_url %q", c.LocalDomain, c.BaseURL)
	}
	return nil
}

// Domain returns the local site authority, defaulting to the base URL host.
func (c *MediaConfig) Domain() assets.Domain {
	if c.LocalDomain != "" {
		return assets.Domain(c.LocalDomain)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return assets.Domain(u.Host)
}

// ImportConfig tunes the import run.
type ImportConfig struct {
	FlushEvery   int                      `yaml:"flush_every"`
	UniqueTerms  bool                     `yaml:"unique_terms"`
	DeferredKeys []string                 `yaml:"deferred_keys"`
	KindDefaults map[string]models.Fields `yaml:"kind_defaults"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FlushEvery, validation.Min(0)),
	)
}

// RedirectConfig controls the redirect bridge.
type RedirectConfig struct {
	Enabled bool   `yaml:"enabled"`
	Group   string `yaml:"group"`
}

func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Source: SourceConfig{
			Driver: "mysql",
		},
		Store: StoreConfig{
			Path:       "./kenaz-import.db",
			HomeURL:    "http://localhost:8080",
			Kinds:      []string{"post", "page"},
			Taxonomies: []string{mapper.TaxonomyCategory, mapper.TaxonomyTag},
		},
		Media: MediaConfig{
			Dir:            "./media",
			BaseURL:        "http://localhost:8080/media",
			AllowedFileExt: assets.DefaultFileExtensions,
			Concurrency:    4,
			MaxBytes:       32 << 20,
			Timeout:        30 * time.Second,
		},
		Import: ImportConfig{
			FlushEvery:   importer.DefaultFlushEvery,
			DeferredKeys: []string{importer.DefaultThumbnailKey},
		},
		Redirect: RedirectConfig{
			Group: redirect.DefaultGroup,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
