package internal

import (
	"io"

	"github.com/starford/kenaz-import/internal/hooks"
	"github.com/starford/kenaz-import/internal/source"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	kind       string
	doRedirect bool
	out        io.Writer
	querier    source.Querier
	hooks      func(*hooks.Registry)
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithKind sets the content kind RunImport imports.
func WithKind(kind string) Option {
	return func(a *application) {
		a.kind = kind
	}
}

// WithRedirect requests redirect rules for imported items.
func WithRedirect(enabled bool) Option {
	return func(a *application) {
		a.doRedirect = enabled
	}
}

// WithOutput sets where the run summary is printed.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithQuerier replaces the configured source database.
func WithQuerier(q source.Querier) Option {
	return func(a *application) {
		a.querier = q
	}
}

// WithHooks registers stage handlers on every importer the application builds.
func WithHooks(register func(*hooks.Registry)) Option {
	return func(a *application) {
		a.hooks = register
	}
}
