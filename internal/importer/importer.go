// Package importer drives one import run: mapping, reconciliation, term and
// metadata attachment, asset resolution, redirects and deferred references.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/extract"
	"github.com/starford/kenaz-import/internal/hooks"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/reconcile"
	"github.com/starford/kenaz-import/internal/redirect"
	"github.com/starford/kenaz-import/internal/source"
	"github.com/starford/kenaz-import/internal/store"
)

// DefaultFlushEvery is the number of records between object cache flushes.
const DefaultFlushEvery = 500

// DefaultThumbnailKey is the metadata key holding a featured image reference.
const DefaultThumbnailKey = "_thumbnail_id"

// Resolver rewrites remote asset references in content.
type Resolver interface {
	Resolve(ctx context.Context, content string, ownerID int64) (string, []models.Failure)
}

// Redirector registers a legacy URL for a local item.
type Redirector interface {
	Handle(ctx context.Context, localID int64, legacyURL string) (redirect.Outcome, string, error)
}

// Config tunes an Importer.
type Config struct {
	FlushEvery   int
	UniqueTerms  bool
	DeferredKeys []string
	KindDefaults map[string]models.Fields
	// Debug puts full error chains into outcome reasons.
	Debug bool
}

// Importer runs imports against one content store.
type Importer struct {
	store     store.ContentStore
	mapper    mapper.Mapper
	assets    Resolver
	redirects Redirector
	matcher   reconcile.Matcher
	hooks     *hooks.Registry
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithResolver enables asset resolution.
func WithResolver(r Resolver) Option {
	return func(i *Importer) { i.assets = r }
}

// WithRedirects enables the redirect bridge.
func WithRedirects(r Redirector) Option {
	return func(i *Importer) { i.redirects = r }
}

// WithHooks replaces the stage registry.
func WithHooks(reg *hooks.Registry) Option {
	return func(i *Importer) { i.hooks = reg }
}

// WithMatcher replaces the default title matcher.
func WithMatcher(m reconcile.Matcher) Option {
	return func(i *Importer) { i.matcher = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// New creates an Importer.
func New(st store.ContentStore, m mapper.Mapper, cfg Config, logger *slog.Logger, opts ...Option) *Importer {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if len(cfg.DeferredKeys) == 0 {
		cfg.DeferredKeys = []string{DefaultThumbnailKey}
	}
	imp := &Importer{
		store:  st,
		mapper: m,
		hooks:  hooks.NewRegistry(),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Hooks returns the stage registry so callers can register handlers.
func (imp *Importer) Hooks() *hooks.Registry { return imp.hooks }

// Import maps rows as records of kind and processes them in source order.
// Only setup errors are returned; per-record problems land in the report.
// A started run always completes the whole batch, cancellation of ctx is ignored.
func (imp *Importer) Import(ctx context.Context, rows []source.Row, kind string) (*Report, error) {
	ctx = context.WithoutCancel(ctx)
	rs := &runState{
		kind:  kind,
		state: StateStart,
		report: &Report{
			RunID:     ulid.Make().String(),
			Kind:      kind,
			StartedAt: imp.now().UTC(),
		},
	}

	opts := []reconcile.Option{reconcile.WithDefaults(imp.cfg.KindDefaults)}
	if imp.matcher != nil {
		opts = append(opts, reconcile.WithMatcher(imp.matcher))
	}
	rs.rec = reconcile.New(imp.store, imp.hooks, imp.logger, opts...)

	rs.state = StateMapping
	batch, err := imp.mapper.Map(rows, kind)
	if err != nil {
		return imp.fail(rs, fmt.Errorf("importer: map: %w: %v", apperr.ErrSetup, err))
	}
	ev, err := imp.hooks.BatchReceived.Run(ctx, hooks.BatchEvent{Kind: kind, Batch: *batch})
	if err != nil {
		imp.logger.Warn("importer: batch-received hook failed", slog.String("error", err.Error()))
	} else {
		batch = &ev.Batch
	}
	rs.total = len(batch.Posts)

	rs.state = StatePrePass
	if err := imp.prePass(ctx, rs, batch); err != nil {
		imp.store.SuspendCacheInvalidation(false)
		return imp.fail(rs, err)
	}

	rs.state = StatePerRecord
	for i, rec := range batch.Posts {
		imp.processRecord(ctx, rs, i+1, rec)
	}

	rs.state = StatePostPass
	imp.postPass(ctx, rs)

	rs.state = StateTeardown
	imp.teardown(ctx, rs)

	rs.state = StateDone
	rs.report.State = rs.state.String()
	return rs.report, nil
}

func (imp *Importer) fail(rs *runState, err error) (*Report, error) {
	imp.logger.Error("importer: setup failed",
		slog.String("state", rs.state.String()),
		slog.String("error", err.Error()))
	rs.state = StateFailed
	rs.report.State = rs.state.String()
	rs.report.FinishedAt = imp.now().UTC()
	return rs.report, err
}

func (imp *Importer) prePass(ctx context.Context, rs *runState, batch *models.NormalizedBatch) error {
	imp.store.SuspendCacheInvalidation(true)
	if err := imp.store.DeferTermCounting(ctx, true); err != nil {
		return fmt.Errorf("importer: defer term counting: %w: %v", apperr.ErrSetup, err)
	}

	for _, a := range batch.Authors {
		if _, err := imp.store.EnsureAuthor(ctx, a); err != nil {
			imp.logger.Warn("importer: ensure author failed",
				slog.String("login", a.Login),
				slog.String("error", err.Error()))
		}
	}

	known := imp.store.Taxonomies()
	ensure := func(defs []models.TermDef, taxonomy string) {
		for _, d := range defs {
			tax := d.Taxonomy
			if tax == "" {
				tax = taxonomy
			}
			if !slices.Contains(known, tax) {
				imp.logger.Debug("importer: taxonomy not registered", slog.String("taxonomy", tax))
				continue
			}
			if _, err := imp.ensureTerm(ctx, tax, d.Name, d.Slug); err != nil {
				rs.report.TermFailures = append(rs.report.TermFailures, models.Failure{
					Subject: tax + ":" + d.Name,
					Reason:  err.Error(),
				})
				imp.logger.Warn("importer: ensure term failed",
					slog.String("taxonomy", tax),
					slog.String("name", d.Name),
					slog.String("error", err.Error()))
			}
		}
	}
	ensure(batch.Categories, mapper.TaxonomyCategory)
	ensure(batch.Tags, mapper.TaxonomyTag)
	ensure(batch.Terms, "")
	return nil
}

func (imp *Importer) processRecord(ctx context.Context, rs *runState, pos int, rec models.ExternalRecord) {
	imp.logger.Info("importer: processing record",
		slog.String("progress", fmt.Sprintf("%d of %d", pos, rs.total)),
		slog.String("external_id", rec.ExternalID),
		slog.String("at", imp.now().Format(time.RFC3339)))

	rec = rec.Clone()
	if rec.Kind == "" {
		rec.Kind = rs.kind
	}
	outcome := models.Outcome{
		Position:   pos,
		ExternalID: rec.ExternalID,
		Title:      rec.Fields.Title,
		Kind:       rec.Kind,
	}

	ev, err := imp.hooks.RecordNormalized.Run(ctx, hooks.RecordEvent{Position: pos, Total: rs.total, Record: rec})
	switch {
	case errors.Is(err, hooks.ErrSkip):
		outcome.Status = models.StatusSkipped
		outcome.Reason = "skipped by record-normalized hook"
		imp.complete(ctx, rs, rec, outcome)
		return
	case err != nil:
		imp.logger.Warn("importer: record-normalized hook failed",
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()))
	default:
		rec = ev.Record
	}

	res := rs.rec.Reconcile(ctx, rec)
	observe(ctx, imp.logger, imp.hooks.RecordReconciled, hooks.ReconciledEvent{Record: rec, Result: res})

	outcome.Status = res.Status
	outcome.LocalID = res.LocalID
	if res.Err != nil {
		outcome.Reason = imp.reason(res.Err)
		imp.logger.Warn("importer: record not imported",
			slog.String("external_id", rec.ExternalID),
			slog.String("status", string(res.Status)),
			slog.String("error", res.Err.Error()))
	}
	if res.Status == models.StatusCreated {
		imp.populate(ctx, rs, rec, res.LocalID, &outcome)
	}
	imp.complete(ctx, rs, rec, outcome)
}

func (imp *Importer) complete(ctx context.Context, rs *runState, rec models.ExternalRecord, o models.Outcome) {
	observe(ctx, imp.logger, imp.hooks.RecordCompleted, hooks.CompletedEvent{Record: rec, Outcome: o})
	rs.report.count(o)
	rs.processed++
	if rs.processed%imp.cfg.FlushEvery == 0 {
		imp.store.FlushCache()
		imp.logger.Debug("importer: cache flushed", slog.Int("processed", rs.processed))
	}
}

// populate finishes a newly created item.
func (imp *Importer) populate(ctx context.Context, rs *runState, rec models.ExternalRecord, id int64, o *models.Outcome) {
	imp.attachTerms(ctx, rs, rec, id)
	imp.attachMeta(ctx, rs, rec, id)
	imp.resolveAssets(ctx, rs, rec, id)

	if imp.redirects == nil || rec.RedirectSource == "" {
		return
	}
	outcome, src, err := imp.redirects.Handle(ctx, id, rec.RedirectSource)
	if err != nil {
		imp.logger.Warn("importer: redirect failed",
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	if outcome != redirect.Skipped {
		o.Redirect = src
	}
	if outcome == redirect.Created {
		rs.report.Redirects++
	}
}

func (imp *Importer) attachTerms(ctx context.Context, rs *runState, rec models.ExternalRecord, id int64) {
	terms := rec.Terms
	ev, err := imp.hooks.Terms.Run(ctx, hooks.TermsEvent{LocalID: id, Record: rec, Terms: terms})
	switch {
	case errors.Is(err, hooks.ErrSkip):
		return
	case err != nil:
		imp.logger.Warn("importer: terms hook failed",
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()))
	default:
		terms = ev.Terms
	}

	var attached []hooks.AttachedTerms
	for _, tt := range terms {
		names := tt.Names
		if imp.cfg.UniqueTerms {
			names = uniqueNames(names)
		}
		var ids []int64
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			tid, err := imp.ensureTerm(ctx, tt.Taxonomy, name, "")
			if err != nil {
				rs.report.TermFailures = append(rs.report.TermFailures, models.Failure{
					ExternalID: rec.ExternalID,
					Subject:    tt.Taxonomy + ":" + name,
					Reason:     imp.reason(err),
				})
				imp.logger.Warn("importer: term skipped",
					slog.String("external_id", rec.ExternalID),
					slog.String("taxonomy", tt.Taxonomy),
					slog.String("name", name),
					slog.String("error", err.Error()))
				continue
			}
			ids = append(ids, tid)
		}
		if len(ids) == 0 {
			continue
		}
		if err := imp.store.SetTerms(ctx, id, tt.Taxonomy, ids); err != nil {
			rs.report.TermFailures = append(rs.report.TermFailures, models.Failure{
				ExternalID: rec.ExternalID,
				Subject:    tt.Taxonomy,
				Reason:     imp.reason(err),
			})
			imp.logger.Warn("importer: attach terms failed",
				slog.String("external_id", rec.ExternalID),
				slog.String("taxonomy", tt.Taxonomy),
				slog.String("error", err.Error()))
			continue
		}
		attached = append(attached, hooks.AttachedTerms{Taxonomy: tt.Taxonomy, TermIDs: ids})
	}
	observe(ctx, imp.logger, imp.hooks.TermsAttached, hooks.TermsAttachedEvent{LocalID: id, Record: rec, Attached: attached})
}

// ensureTerm returns the id of a term, creating it when missing.
func (imp *Importer) ensureTerm(ctx context.Context, taxonomy, name, slug string) (int64, error) {
	if slug == "" {
		slug = extract.Slugify(name)
	}
	if slug == "" {
		return 0, fmt.Errorf("importer: term %q has no usable slug: %w", name, apperr.ErrTermCreation)
	}
	if id, ok, err := imp.store.FindTerm(ctx, taxonomy, slug); err != nil {
		return 0, fmt.Errorf("importer: find term %q: %w: %v", slug, apperr.ErrTermCreation, err)
	} else if ok {
		return id, nil
	}
	id, err := imp.store.CreateTerm(ctx, taxonomy, name, slug)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		if id, ok, ferr := imp.store.FindTerm(ctx, taxonomy, slug); ferr == nil && ok {
			return id, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("importer: create term %q: %w: %v", slug, apperr.ErrTermCreation, err)
	}
	return id, nil
}

func (imp *Importer) attachMeta(ctx context.Context, rs *runState, rec models.ExternalRecord, id int64) {
	var written []models.MetaPair
	for _, pair := range rec.Meta {
		ev, err := imp.hooks.Meta.Run(ctx, hooks.MetaEvent{LocalID: id, Record: rec, Pair: pair})
		switch {
		case errors.Is(err, hooks.ErrSkip):
			continue
		case err != nil:
			imp.logger.Warn("importer: meta hook failed",
				slog.String("external_id", rec.ExternalID),
				slog.String("key", pair.Key),
				slog.String("error", err.Error()))
		default:
			pair = ev.Pair
		}
		if pair.Key == "" {
			continue
		}

		if slices.Contains(imp.cfg.DeferredKeys, pair.Key) && pair.Value != "" {
			rs.deferred = append(rs.deferred, models.DeferredReference{
				LocalID:       id,
				RefExternalID: pair.Value,
				Field:         pair.Key,
			})
		}

		if err := imp.store.AddMeta(ctx, id, pair.Key, pair.Value, true); err != nil {
			if errors.Is(err, apperr.ErrAlreadyExists) {
				imp.logger.Debug("importer: meta already set",
					slog.Int64("local_id", id),
					slog.String("key", pair.Key))
			} else {
				imp.logger.Warn("importer: add meta failed",
					slog.Int64("local_id", id),
					slog.String("key", pair.Key),
					slog.String("error", err.Error()))
			}
			continue
		}
		written = append(written, pair)
	}
	observe(ctx, imp.logger, imp.hooks.MetadataAttached, hooks.MetadataAttachedEvent{LocalID: id, Record: rec, Meta: written})
}

func (imp *Importer) resolveAssets(ctx context.Context, rs *runState, rec models.ExternalRecord, id int64) {
	if imp.assets == nil {
		return
	}
	it, err := imp.store.GetItem(ctx, id)
	if err != nil {
		imp.logger.Warn("importer: load item for assets failed",
			slog.Int64("local_id", id),
			slog.String("error", err.Error()))
		return
	}
	body, failures := imp.assets.Resolve(ctx, it.Body, id)
	for _, f := range failures {
		f.ExternalID = rec.ExternalID
		rs.report.AssetFailures = append(rs.report.AssetFailures, f)
	}
	if body == it.Body {
		return
	}
	if err := imp.store.UpdateFields(ctx, id, map[string]any{"body": body}); err != nil {
		imp.logger.Warn("importer: persist body failed",
			slog.Int64("local_id", id),
			slog.String("error", err.Error()))
	}
}

// postPass resolves references to records that appeared later in the batch.
func (imp *Importer) postPass(ctx context.Context, rs *runState) {
	ids := rs.rec.IdentityMap()
	for _, d := range rs.deferred {
		target, ok := ids.Lookup(d.RefExternalID)
		if !ok {
			imp.logger.Debug("importer: deferred reference unresolved",
				slog.Int64("local_id", d.LocalID),
				slog.String("field", d.Field),
				slog.String("ref", d.RefExternalID))
			continue
		}
		want := strconv.FormatInt(target, 10)
		cur, found, err := imp.store.GetMeta(ctx, d.LocalID, d.Field)
		if err != nil {
			imp.logger.Warn("importer: read deferred field failed",
				slog.Int64("local_id", d.LocalID),
				slog.String("field", d.Field),
				slog.String("error", err.Error()))
			continue
		}
		if found && cur == want {
			continue
		}
		if err := imp.store.UpdateMeta(ctx, d.LocalID, d.Field, want); err != nil {
			imp.logger.Warn("importer: update deferred field failed",
				slog.Int64("local_id", d.LocalID),
				slog.String("field", d.Field),
				slog.String("error", err.Error()))
			continue
		}
		rs.report.Deferred++
	}
}

func (imp *Importer) teardown(ctx context.Context, rs *runState) {
	imp.store.SuspendCacheInvalidation(false)
	if err := imp.store.DeferTermCounting(ctx, false); err != nil {
		imp.logger.Warn("importer: recount terms failed", slog.String("error", err.Error()))
	}
	imp.store.FlushCache()
	for _, tax := range imp.store.Taxonomies() {
		if err := imp.store.RefreshTermHierarchy(ctx, tax); err != nil {
			imp.logger.Warn("importer: refresh term hierarchy failed",
				slog.String("taxonomy", tax),
				slog.String("error", err.Error()))
		}
	}

	rs.report.FinishedAt = imp.now().UTC()
	entries := rs.rec.IdentityMap().Entries()
	if err := imp.store.SaveRun(ctx, rs.report.Run(), entries); err != nil {
		imp.logger.Warn("importer: save run failed",
			slog.String("run_id", rs.report.RunID),
			slog.String("error", err.Error()))
	}
	observe(ctx, imp.logger, imp.hooks.RunCompleted, hooks.RunEvent{
		Run:         rs.report.Run(),
		Outcomes:    rs.report.Outcomes,
		IdentityMap: entries,
	})
	imp.logger.Info("importer: run finished",
		slog.String("run_id", rs.report.RunID),
		slog.String("kind", rs.kind),
		slog.Int("created", rs.report.Created),
		slog.Int("existing", rs.report.Existing),
		slog.Int("skipped", rs.report.Skipped),
		slog.Int("failed", rs.report.Failed))
}

func (imp *Importer) reason(err error) string {
	if imp.cfg.Debug {
		return err.Error()
	}
	for _, s := range []error{
		apperr.ErrRecordValidation, apperr.ErrCreation, apperr.ErrTermCreation, apperr.ErrAssetFetch,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

// observe runs a notification stage; its errors never affect the run.
func observe[T any](ctx context.Context, logger *slog.Logger, s *hooks.Stage[T], ev T) {
	if _, err := s.Run(ctx, ev); err != nil && !errors.Is(err, hooks.ErrSkip) {
		logger.Warn("importer: hook failed", slog.String("stage", s.Name()), slog.String("error", err.Error()))
	}
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
