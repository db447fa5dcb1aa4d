// Package redirect registers permanent redirects from legacy URLs to the
// canonical URLs of imported items.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/store"
)

// DefaultGroup is the rule group redirects are filed under.
const DefaultGroup = "db2wpmigration"

// Permanent is the status code of every created rule.
const Permanent = 301

// Outcome describes what Handle did.
type Outcome string

const (
	Created Outcome = "created"
	Exists  Outcome = "exists"
	Skipped Outcome = "skipped"
)

// Canonicalizer returns the canonical URL of a local item.
type Canonicalizer interface {
	CanonicalURL(ctx context.Context, id int64) (string, error)
}

// Bridge creates redirect rules idempotently by source path.
type Bridge struct {
	rules  store.RedirectStore
	canon  Canonicalizer
	group  string
	logger *slog.Logger

	mu      sync.Mutex
	groupID int64
}

// New returns a Bridge. A nil rule store is a setup error since redirects
// were explicitly requested.
func New(rules store.RedirectStore, canon Canonicalizer, group string, logger *slog.Logger) (*Bridge, error) {
	if rules == nil {
		return nil, fmt.Errorf("redirect: no redirect store: %w", apperr.ErrSetup)
	}
	if group == "" {
		group = DefaultGroup
	}
	return &Bridge{rules: rules, canon: canon, group: group, logger: logger}, nil
}

// Handle maps legacyURL to the canonical path of localID.
func (b *Bridge) Handle(ctx context.Context, localID int64, legacyURL string) (Outcome, string, error) {
	source := SourcePath(legacyURL)
	if source == "" {
		return Skipped, "", nil
	}
	canonical, err := b.canon.CanonicalURL(ctx, localID)
	if err != nil {
		return Skipped, source, fmt.Errorf("redirect: canonical url: %w", err)
	}
	target := TargetPath(canonical)
	if target == "" {
		return Skipped, source, nil
	}

	if _, err := b.rules.FindRule(ctx, source); err == nil {
		b.logger.Info("redirect: rule exists", slog.String("source", source))
		return Exists, source, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Skipped, source, fmt.Errorf("redirect: find rule: %w", err)
	}

	groupID, err := b.ensureGroup(ctx)
	if err != nil {
		return Skipped, source, err
	}
	if _, err := b.rules.CreateRule(ctx, groupID, source, target, Permanent); err != nil {
		return Skipped, source, fmt.Errorf("redirect: create rule: %w", err)
	}
	b.logger.Info("redirect: created",
		slog.String("source", source),
		slog.String("target", target))
	return Created, source, nil
}

// ensureGroup resolves the group id once; failures are retried on the next call.
func (b *Bridge) ensureGroup(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groupID != 0 {
		return b.groupID, nil
	}
	id, err := b.rules.GetOrCreateGroup(ctx, b.group)
	if err != nil {
		return 0, fmt.Errorf("redirect: group %q: %w", b.group, err)
	}
	b.groupID = id
	return id, nil
}

// SourcePath returns the path and query of a legacy URL.
func SourcePath(legacyURL string) string {
	u, err := url.Parse(legacyURL)
	if err != nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" {
		return ""
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// TargetPath returns the path of a canonical URL.
func TargetPath(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}
