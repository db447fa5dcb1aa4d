package importer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/assets"
	"github.com/starford/kenaz-import/internal/hooks"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/redirect"
	"github.com/starford/kenaz-import/internal/source"
	"github.com/starford/kenaz-import/internal/store"
	"github.com/starford/kenaz-import/internal/testutil"
)

func columnMapper(t *testing.T) *mapper.ColumnMapper {
	t.Helper()
	m, err := mapper.NewColumnMapper(mapper.Config{
		ExternalID: "id",
		Fields:     map[string]string{"title": "title", "body": "body"},
		Terms:      []mapper.TermColumn{{Taxonomy: "category", Column: "cats"}},
		Meta: []mapper.MetaColumn{
			{Key: DefaultThumbnailKey, Column: "thumb"},
			{Key: "legacy_id", Column: "id"},
		},
		RedirectSource: "old_url",
	})
	require.NoError(t, err)
	return m
}

func TestImportTwoHello(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())

	rows := []source.Row{
		{"id": "1", "title": "Hello", "body": "first"},
		{"id": "2", "title": "Hello", "body": "second"},
	}
	report, err := imp.Import(context.Background(), rows, "post")
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, models.StatusCreated, report.Outcomes[0].Status)
	assert.Equal(t, models.StatusExisting, report.Outcomes[1].Status)
	assert.Equal(t, report.Outcomes[0].LocalID, report.Outcomes[1].LocalID)
	assert.Equal(t, StateDone.String(), report.State)

	entries, err := db.RunEntries(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	distinct := map[int64]struct{}{}
	for _, e := range entries {
		distinct[e.LocalID] = struct{}{}
	}
	assert.Len(t, distinct, 1)
}

func TestImportResolvesForwardReferences(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())
	ctx := context.Background()

	rows := []source.Row{
		{"id": "1", "title": "Story", "thumb": "42"},
		{"id": "42", "title": "Cover"},
		{"id": "3", "title": "Orphan", "thumb": "999"},
	}
	report, err := imp.Import(ctx, rows, "post")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 1, report.Deferred)

	story, cover, orphan := report.Outcomes[0].LocalID, report.Outcomes[1].LocalID, report.Outcomes[2].LocalID
	v, ok, err := db.GetMeta(ctx, story, DefaultThumbnailKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(cover, 10), v)

	v, ok, err = db.GetMeta(ctx, orphan, DefaultThumbnailKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "999", v)
}

func TestImportSkipsInvalidRecords(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())

	rows := []source.Row{
		{"id": "1", "title": "One"},
		{"id": "1", "title": "Duplicate"},
		{"id": "", "title": "No id"},
		{"id": "4", "title": ""},
	}
	report, err := imp.Import(context.Background(), rows, "post")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, models.StatusSkipped, report.Outcomes[1].Status)
	assert.Equal(t, apperr.ErrRecordValidation.Error(), report.Outcomes[1].Reason)
	assert.Equal(t, apperr.ErrCreation.Error(), report.Outcomes[3].Reason)
}

func TestImportUnknownKindSkipsEveryRecord(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())

	report, err := imp.Import(context.Background(), []source.Row{{"id": "1", "title": "A"}}, "event")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Created)
}

func TestImportMappingFailureIsSetupError(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())

	report, err := imp.Import(context.Background(), []source.Row{{"title": "no id column"}}, "post")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrSetup))
	assert.Equal(t, StateFailed.String(), report.State)

	runs, err := db.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestImportAttachesTerms(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{UniqueTerms: true}, testutil.Logger())
	ctx := context.Background()

	rows := []source.Row{
		{"id": "1", "title": "A", "cats": "News, Sport, News"},
		{"id": "2", "title": "B", "cats": "News"},
	}
	report, err := imp.Import(ctx, rows, "post")
	require.NoError(t, err)
	require.Empty(t, report.TermFailures)

	terms, err := db.ItemTerms(ctx, report.Outcomes[0].LocalID, "category")
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "news", terms[0].Slug)
	assert.Equal(t, "sport", terms[1].Slug)

	id, ok, err := db.FindTerm(ctx, "category", "news")
	require.NoError(t, err)
	require.True(t, ok)
	term, err := db.GetTerm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, term.Count)
}

func TestImportRecordsTermFailures(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())
	imp.Hooks().Terms.Use(func(_ context.Context, ev hooks.TermsEvent) (hooks.TermsEvent, error) {
		ev.Terms = append(ev.Terms, models.TaxonomyTerms{Taxonomy: "genre", Names: []string{"Jazz"}})
		return ev, nil
	})

	report, err := imp.Import(context.Background(), []source.Row{{"id": "1", "title": "A", "cats": "News"}}, "post")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.TermFailures, 1)
	assert.Equal(t, "genre:Jazz", report.TermFailures[0].Subject)
	assert.Equal(t, "1", report.TermFailures[0].ExternalID)
}

func TestImportResolvesAssets(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	lib, _ := testutil.TestMedia(t, db)
	srv := testutil.AssetServer(t, nil)
	resolver := assets.NewResolver(lib, assets.Config{LocalDomain: "new.example.com"}, testutil.Logger())
	imp := New(db, columnMapper(t), Config{}, testutil.Logger(), WithResolver(resolver))
	ctx := context.Background()

	body := `<p><img src="` + srv.URL + `/img/photo.png"></p>` +
		`<a href="` + srv.URL + `/docs/report.pdf">report</a>` +
		`<img src="` + srv.URL + `/img/missing.png">` +
		`<img src="https://new.example.com/media/local.png">`
	report, err := imp.Import(ctx, []source.Row{{"id": "1", "title": "A", "body": body}}, "post")
	require.NoError(t, err)
	require.Len(t, report.AssetFailures, 1)
	assert.Contains(t, report.AssetFailures[0].Subject, "missing.png")

	it, err := db.GetItem(ctx, report.Outcomes[0].LocalID)
	require.NoError(t, err)
	assert.NotContains(t, it.Body, srv.URL+"/img/photo.png")
	assert.NotContains(t, it.Body, srv.URL+"/docs/report.pdf")
	assert.Contains(t, it.Body, srv.URL+"/img/missing.png")
	assert.Contains(t, it.Body, "https://new.example.com/media/local.png")
	assert.Equal(t, 3, strings.Count(it.Body, "https://new.example.com/media/"))
}

func TestImportCreatesRedirectsOnce(t *testing.T) {
	db := testutil.TestStore(t, store.Options{Redirects: true})
	ctx := context.Background()
	rs, err := db.Redirects(ctx)
	require.NoError(t, err)
	bridge, err := redirect.New(rs, db, "", testutil.Logger())
	require.NoError(t, err)

	rows := []source.Row{{"id": "1", "title": "Hello", "old_url": "https://old.example.com/news.php?id=1"}}
	imp := New(db, columnMapper(t), Config{}, testutil.Logger(), WithRedirects(bridge))
	report, err := imp.Import(ctx, rows, "post")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Redirects)
	assert.Equal(t, "/news.php?id=1", report.Outcomes[0].Redirect)

	rule, err := db.FindRule(ctx, "/news.php?id=1")
	require.NoError(t, err)
	assert.Equal(t, "/hello/", rule.Target)

	// A second run matches the existing item and leaves rules alone.
	imp = New(db, columnMapper(t), Config{}, testutil.Logger(), WithRedirects(bridge))
	report, err = imp.Import(ctx, rows, "post")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Existing)
	assert.Zero(t, report.Redirects)

	rules, err := db.ListRules(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestImportHooks(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{FlushEvery: 1}, testutil.Logger())
	ctx := context.Background()

	reg := imp.Hooks()
	reg.RecordNormalized.Use(func(_ context.Context, ev hooks.RecordEvent) (hooks.RecordEvent, error) {
		if ev.Record.ExternalID == "2" {
			return ev, hooks.ErrSkip
		}
		ev.Record.Fields.Title = strings.ToUpper(ev.Record.Fields.Title)
		return ev, nil
	})
	reg.Meta.Use(func(_ context.Context, ev hooks.MetaEvent) (hooks.MetaEvent, error) {
		if ev.Pair.Key == "legacy_id" {
			return ev, hooks.ErrSkip
		}
		return ev, nil
	})
	var completed []string
	reg.RecordCompleted.Observe(func(_ context.Context, ev hooks.CompletedEvent) {
		completed = append(completed, ev.Outcome.ExternalID)
	})
	var run hooks.RunEvent
	reg.RunCompleted.Observe(func(_ context.Context, ev hooks.RunEvent) { run = ev })

	rows := []source.Row{
		{"id": "1", "title": "loud"},
		{"id": "2", "title": "quiet"},
	}
	report, err := imp.Import(ctx, rows, "post")
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, completed)
	assert.Equal(t, models.StatusSkipped, report.Outcomes[1].Status)
	assert.Equal(t, report.RunID, run.Run.ID)
	assert.Len(t, run.IdentityMap, 1)

	it, err := db.GetItem(ctx, report.Outcomes[0].LocalID)
	require.NoError(t, err)
	assert.Equal(t, "LOUD", it.Title)

	_, ok, err := db.GetMeta(ctx, it.ID, "legacy_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportPersistsRun(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())
	ctx := context.Background()

	report, err := imp.Import(ctx, []source.Row{{"id": "ext-9", "title": "Nine"}}, "page")
	require.NoError(t, err)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, "page", runs[0].Kind)
	assert.Equal(t, 1, runs[0].Created)

	id, err := db.LookupLocalID(ctx, "ext-9")
	require.NoError(t, err)
	assert.Equal(t, report.Outcomes[0].LocalID, id)
}

func TestReportSummary(t *testing.T) {
	r := &Report{Kind: "post"}
	r.count(models.Outcome{ExternalID: "1", Status: models.StatusCreated})
	r.count(models.Outcome{ExternalID: "2", Title: "Two", Status: models.StatusFailed, Reason: "content item rejected"})

	var b strings.Builder
	r.WriteSummary(&b)
	out := b.String()
	assert.Contains(t, out, "failed 2 (Two): content item rejected")
	assert.Contains(t, out, "post: 1 created, 0 existing, 0 skipped, 1 failed")
	assert.True(t, strings.HasSuffix(out, "All done.\n"))
}

func TestImportIgnoresCancellationMidRun(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	imp := New(db, columnMapper(t), Config{}, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp.Hooks().RecordCompleted.Observe(func(context.Context, hooks.CompletedEvent) { cancel() })

	rows := []source.Row{
		{"id": "1", "title": "First"},
		{"id": "2", "title": "Second", "thumb": "3"},
		{"id": "3", "title": "Third"},
	}
	report, err := imp.Import(ctx, rows, "post")
	require.NoError(t, err)
	assert.Len(t, report.Outcomes, 3)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, StateDone.String(), report.State)

	runs, err := db.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// cacheLog records cache lifecycle calls made on the wrapped store.
type cacheLog struct {
	*store.DB
	completed int
	calls     []string
}

func (c *cacheLog) SuspendCacheInvalidation(suspend bool) {
	c.calls = append(c.calls, "suspend:"+strconv.FormatBool(suspend))
	c.DB.SuspendCacheInvalidation(suspend)
}

func (c *cacheLog) FlushCache() {
	c.calls = append(c.calls, "flush:"+strconv.Itoa(c.completed))
	c.DB.FlushCache()
}

func TestImportCacheLifecycle(t *testing.T) {
	cl := &cacheLog{DB: testutil.TestStore(t, store.Options{})}
	imp := New(cl, columnMapper(t), Config{FlushEvery: 2}, testutil.Logger())
	imp.Hooks().RecordCompleted.Observe(func(context.Context, hooks.CompletedEvent) { cl.completed++ })

	rows := make([]source.Row, 5)
	for i := range rows {
		id := strconv.Itoa(i + 1)
		rows[i] = source.Row{"id": id, "title": "Item " + id}
	}
	report, err := imp.Import(context.Background(), rows, "post")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Created)

	assert.Equal(t, []string{
		"suspend:true",
		"flush:2",
		"flush:4",
		"suspend:false",
		"flush:5",
	}, cl.calls)
}
