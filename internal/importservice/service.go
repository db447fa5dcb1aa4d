// Package importservice coordinates import runs and read-side lookups for
// the HTTP and MCP surfaces.
package importservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/store"
)

// ImportRequest asks for one import run.
type ImportRequest struct {
	Kind     string `json:"kind"`
	Redirect bool   `json:"redirect"`
}

// Runner executes one import run.
type Runner func(ctx context.Context, req ImportRequest) (*importer.Report, error)

// ItemDetail is the full representation of an imported item.
type ItemDetail struct {
	models.Item
	URL   string                   `json:"url"`
	Meta  []models.MetaPair        `json:"meta"`
	Terms map[string][]models.Term `json:"terms"`
}

// Service enforces one import at a time and serves lookups.
type Service struct {
	db  *store.DB
	run Runner

	mu      sync.Mutex
	running bool
	last    *importer.Report
}

// NewService creates a new import service.
func NewService(db *store.DB, run Runner) *Service {
	return &Service{db: db, run: run}
}

// Import runs an import. A run already in progress yields apperr.ErrConflict.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*importer.Report, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return nil, fmt.Errorf("importservice: kind is required: %w", apperr.ErrRecordValidation)
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("importservice: import in progress: %w", apperr.ErrConflict)
	}
	s.running = true
	s.mu.Unlock()

	// The run outlives the caller; a dropped request must not cut the batch short.
	report, err := s.run(context.WithoutCancel(ctx), req)

	s.mu.Lock()
	s.running = false
	if report != nil {
		s.last = report
	}
	s.mu.Unlock()
	return report, err
}

// Status reports whether a run is in progress and the last finished report.
func (s *Service) Status() (bool, *importer.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.last
}

// GetItem returns an item with its metadata, terms and canonical URL.
func (s *Service) GetItem(ctx context.Context, id int64) (*ItemDetail, error) {
	it, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	u, err := s.db.CanonicalURL(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.db.ListMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = []models.MetaPair{}
	}
	terms := make(map[string][]models.Term)
	for _, tax := range s.db.Taxonomies() {
		ts, err := s.db.ItemTerms(ctx, id, tax)
		if err != nil {
			return nil, err
		}
		if len(ts) > 0 {
			terms[tax] = ts
		}
	}
	return &ItemDetail{Item: *it, URL: u, Meta: meta, Terms: terms}, nil
}

// LookupLocalID maps an external id to its local id.
func (s *Service) LookupLocalID(ctx context.Context, externalID string) (int64, error) {
	return s.db.LookupLocalID(ctx, externalID)
}

// Search runs a full-text search over imported items.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	res, err := s.db.SearchItems(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []store.SearchResult{}
	}
	return res, nil
}

// ListRuns returns recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	runs, err := s.db.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return runs, nil
}

// RunEntries returns the identity map persisted for a run.
func (s *Service) RunEntries(ctx context.Context, runID string) ([]models.IdentityEntry, error) {
	entries, err := s.db.RunEntries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("importservice: run %q: %w", runID, apperr.ErrNotFound)
	}
	return entries, nil
}

// ListRedirects returns redirect rules, or none when redirects are not
// provisioned.
func (s *Service) ListRedirects(ctx context.Context, limit int) ([]models.RedirectRule, error) {
	if _, err := s.db.Redirects(ctx); err != nil {
		if errors.Is(err, apperr.ErrSetup) {
			return []models.RedirectRule{}, nil
		}
		return nil, err
	}
	rules, err := s.db.ListRules(ctx, limit)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []models.RedirectRule{}
	}
	return rules, nil
}

// ResolveRedirect returns the rule whose source equals requestURI.
func (s *Service) ResolveRedirect(ctx context.Context, requestURI string) (*models.RedirectRule, error) {
	rs, err := s.db.Redirects(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrSetup) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return rs.FindRule(ctx, requestURI)
}
