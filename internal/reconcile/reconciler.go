package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/hooks"
	"github.com/starford/kenaz-import/internal/models"
)

// Store is the part of the content store the reconciler needs.
type Store interface {
	KindExists(kind string) bool
	CreateItem(ctx context.Context, kind string, f models.Fields) (int64, error)
	FindItemByTitle(ctx context.Context, kind, title string) (int64, bool, error)
}

// Matcher finds an existing local item for a record.
type Matcher interface {
	FindExisting(ctx context.Context, rec models.ExternalRecord) (int64, bool, error)
}

// TitleMatcher matches on exact title equality within the record's kind.
// Unrelated items that share a title will match; swap the Matcher when that
// is not acceptable.
type TitleMatcher struct {
	Store Store
}

// FindExisting implements Matcher.
func (m TitleMatcher) FindExisting(ctx context.Context, rec models.ExternalRecord) (int64, bool, error) {
	if rec.Fields.Title == "" {
		return 0, false, nil
	}
	return m.Store.FindItemByTitle(ctx, rec.Kind, rec.Fields.Title)
}

// Reconciler resolves records to local ids and owns the run's IdentityMap.
type Reconciler struct {
	store    Store
	matcher  Matcher
	hooks    *hooks.Registry
	defaults map[string]models.Fields
	ids      *IdentityMap
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMatcher replaces the default TitleMatcher.
func WithMatcher(m Matcher) Option {
	return func(r *Reconciler) { r.matcher = m }
}

// WithDefaults sets per-kind field defaults merged under each record.
func WithDefaults(d map[string]models.Fields) Option {
	return func(r *Reconciler) { r.defaults = d }
}

// New creates a Reconciler with a fresh IdentityMap.
func New(store Store, reg *hooks.Registry, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		matcher: TitleMatcher{Store: store},
		hooks:   reg,
		ids:     NewIdentityMap(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IdentityMap returns the run's mapping.
func (r *Reconciler) IdentityMap() *IdentityMap { return r.ids }

// FindExisting runs the matcher and then the existing-match stage, which
// may override the decision.
func (r *Reconciler) FindExisting(ctx context.Context, rec models.ExternalRecord) (int64, bool, error) {
	id, found, err := r.matcher.FindExisting(ctx, rec)
	if err != nil {
		return 0, false, err
	}
	ev, err := r.hooks.ExistingMatch.Run(ctx, hooks.MatchEvent{Record: rec, LocalID: id, Found: found})
	if err != nil {
		if errors.Is(err, hooks.ErrSkip) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ev.LocalID, ev.Found && ev.LocalID > 0, nil
}

// Reconcile resolves one record. Existing and Created results write exactly
// one IdentityMap entry; Skipped and Failed write none.
func (r *Reconciler) Reconcile(ctx context.Context, rec models.ExternalRecord) models.ReconcileResult {
	if rec.ExternalID == "" {
		return skipped(fmt.Errorf("reconcile: empty external id: %w", apperr.ErrRecordValidation))
	}
	if _, dup := r.ids.Lookup(rec.ExternalID); dup {
		return skipped(fmt.Errorf("reconcile: duplicate external id %q: %w", rec.ExternalID, apperr.ErrRecordValidation))
	}
	if !r.store.KindExists(rec.Kind) {
		return skipped(fmt.Errorf("reconcile: unknown kind %q: %w", rec.Kind, apperr.ErrRecordValidation))
	}

	id, found, err := r.FindExisting(ctx, rec)
	if err != nil {
		return models.ReconcileResult{
			Status: models.StatusFailed,
			Err:    fmt.Errorf("reconcile: match %q: %w: %v", rec.ExternalID, apperr.ErrCreation, err),
		}
	}
	if found {
		if err := r.ids.Set(rec.ExternalID, id); err != nil {
			return skipped(err)
		}
		return models.ReconcileResult{Status: models.StatusExisting, LocalID: id}
	}

	fields := mergeDefaults(rec.Fields, r.defaults[rec.Kind])
	ev, err := r.hooks.ItemFields.Run(ctx, hooks.FieldsEvent{Record: rec, Fields: fields})
	if err != nil {
		if errors.Is(err, hooks.ErrSkip) {
			return skipped(fmt.Errorf("reconcile: %q vetoed: %w", rec.ExternalID, apperr.ErrRecordValidation))
		}
		r.logger.Warn("reconcile: item-fields hook failed",
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()))
	} else {
		fields = ev.Fields
	}

	newID, err := r.store.CreateItem(ctx, rec.Kind, fields)
	if err != nil {
		return models.ReconcileResult{
			Status: models.StatusFailed,
			Err:    fmt.Errorf("reconcile: create %q: %w: %v", rec.ExternalID, apperr.ErrCreation, err),
		}
	}
	if err := r.ids.Set(rec.ExternalID, newID); err != nil {
		return models.ReconcileResult{Status: models.StatusFailed, LocalID: newID, Err: err}
	}
	return models.ReconcileResult{Status: models.StatusCreated, LocalID: newID}
}

func skipped(err error) models.ReconcileResult {
	return models.ReconcileResult{Status: models.StatusSkipped, Err: err}
}

// mergeDefaults fills every zero field of f from d.
func mergeDefaults(f, d models.Fields) models.Fields {
	if f.Title == "" {
		f.Title = d.Title
	}
	if f.Body == "" {
		f.Body = d.Body
	}
	if f.Excerpt == "" {
		f.Excerpt = d.Excerpt
	}
	if f.Status == "" {
		f.Status = d.Status
	}
	if f.Slug == "" {
		f.Slug = d.Slug
	}
	if f.Date.IsZero() {
		f.Date = d.Date
	}
	if f.DateGMT.IsZero() {
		f.DateGMT = d.DateGMT
	}
	if f.Parent == 0 {
		f.Parent = d.Parent
	}
	if f.MenuOrder == 0 {
		f.MenuOrder = d.MenuOrder
	}
	if f.Password == "" {
		f.Password = d.Password
	}
	if f.Author == "" {
		f.Author = d.Author
	}
	if f.CommentStatus == "" {
		f.CommentStatus = d.CommentStatus
	}
	if f.GUID == "" {
		f.GUID = d.GUID
	}
	return f
}
