package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/importservice"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/source"
	"github.com/starford/kenaz-import/internal/storage"
	"github.com/starford/kenaz-import/internal/store"
	"github.com/starford/kenaz-import/internal/testutil"
)

var testRows = []source.Row{
	{"id": "1", "title": "Hello", "body": "<p>first post</p>"},
	{"id": "2", "title": "World", "body": "<p>second post</p>"},
}

func importRunner(t *testing.T, db *store.DB) importservice.Runner {
	t.Helper()
	m, err := mapper.NewColumnMapper(mapper.Config{
		ExternalID: "id",
		Fields:     map[string]string{"title": "title", "body": "body"},
	})
	if err != nil {
		t.Fatalf("NewColumnMapper: %v", err)
	}
	return func(ctx context.Context, req importservice.ImportRequest) (*importer.Report, error) {
		return importer.New(db, m, importer.Config{}, testutil.Logger()).Import(ctx, testRows, req.Kind)
	}
}

// testEnv sets up a temp store, service, and router for testing.
// An empty token means auth is disabled.
func testEnv(t *testing.T, authToken string) (*importservice.Service, *store.DB, http.Handler) {
	t.Helper()
	db := testutil.TestStore(t, store.Options{Redirects: true})
	svc := importservice.NewService(db, importRunner(t, db))
	return svc, db, NewRouter(svc, authToken != "", authToken, nil, nil)
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartImportAndLookups(t *testing.T) {
	_, _, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/imports", map[string]any{"kind": "post"})
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", w.Code, w.Body.String())
	}
	var report importer.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Created != 2 || report.RunID == "" {
		t.Fatalf("unexpected report: %+v", report)
	}

	w = doJSON(t, router, http.MethodGet, "/identity/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("identity status = %d", w.Code)
	}
	var ident IdentityResponse
	if err := json.NewDecoder(w.Body).Decode(&ident); err != nil {
		t.Fatal(err)
	}
	if ident.LocalID != report.Outcomes[0].LocalID {
		t.Errorf("local id = %d, want %d", ident.LocalID, report.Outcomes[0].LocalID)
	}

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/items/%d", ident.LocalID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("item status = %d", w.Code)
	}
	var item ItemDetail
	if err := json.NewDecoder(w.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	if item.Title != "Hello" || item.URL != "https://new.example.com/hello/" {
		t.Errorf("unexpected item: %+v", item)
	}

	w = doJSON(t, router, http.MethodGet, "/search?q=Hello", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Hello") {
		t.Errorf("search status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/runs", nil)
	var runs RunListResponse
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].ID != report.RunID {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	w = doJSON(t, router, http.MethodGet, "/runs/"+report.RunID+"/entries", nil)
	var entries RunEntriesResponse
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries.Entries))
	}

	w = doJSON(t, router, http.MethodGet, "/imports/current", nil)
	var status ImportStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Running || status.Last == nil || status.Last.RunID != report.RunID {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestLookupMissing(t *testing.T) {
	_, _, router := testEnv(t, "")

	if w := doJSON(t, router, http.MethodGet, "/identity/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("identity status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/items/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("item status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/items/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("item status = %d, want 400", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/runs/unknown/entries", nil); w.Code != http.StatusNotFound {
		t.Errorf("entries status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search status = %d, want 400", w.Code)
	}
}

func TestStartImportValidation(t *testing.T) {
	_, _, router := testEnv(t, "")

	if w := doJSON(t, router, http.MethodPost, "/imports", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing kind status = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", w.Code)
	}
}

func TestStartImportConflict(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	svc := importservice.NewService(db, func(ctx context.Context, _ importservice.ImportRequest) (*importer.Report, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return &importer.Report{Kind: "post"}, nil
	})
	router := NewRouter(svc, false, "", nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Import(context.Background(), importservice.ImportRequest{Kind: "post"})
	}()
	<-started

	if w := doJSON(t, router, http.MethodPost, "/imports", map[string]any{"kind": "post"}); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	close(release)
	<-done

	if w := doJSON(t, router, http.MethodPost, "/imports", map[string]any{"kind": "post"}); w.Code == http.StatusConflict {
		t.Error("import still blocked after previous run finished")
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, _, router := testEnv(t, "secret")

	if w := doJSON(t, router, http.MethodGet, "/runs", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
}

func TestRedirectFallback(t *testing.T) {
	svc, db, _ := testEnv(t, "")
	ctx := context.Background()
	gid, err := db.GetOrCreateGroup(ctx, "db2wpmigration")
	if err != nil {
		t.Fatalf("GetOrCreateGroup: %v", err)
	}
	if _, err := db.CreateRule(ctx, gid, "/news.php?id=1", "/hello/", http.StatusMovedPermanently); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	r := chi.NewRouter()
	r.NotFound(RedirectFallback(svc))

	req := httptest.NewRequest(http.MethodGet, "/news.php?id=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/hello/" {
		t.Errorf("location = %q", loc)
	}

	req = httptest.NewRequest(http.MethodGet, "/news.php?id=2", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", w.Code)
	}

	rules := doJSON(t, NewRouter(svc, false, "", nil, nil), http.MethodGet, "/redirects", nil)
	if !strings.Contains(rules.Body.String(), "/news.php?id=1") {
		t.Errorf("redirect list = %s", rules.Body.String())
	}
}

type countingRegistrar struct{ calls int }

func (c *countingRegistrar) Sync(context.Context) error {
	c.calls++
	return nil
}

func TestMediaUploadAndServe(t *testing.T) {
	db := testutil.TestStore(t, store.Options{})
	files, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	reg := &countingRegistrar{}
	mh := NewMediaHandler(files, reg)
	mh.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	svc := importservice.NewService(db, importRunner(t, db))
	root := chi.NewRouter()
	root.Get("/media/*", mh.ServeFile)
	root.Mount("/api", NewRouter(svc, false, "", nil, mh))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "My Photo.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(testutil.PNG)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	root.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var up MediaUploadResponse
	if err := json.NewDecoder(w.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	if up.File != "2024/05/My-Photo.png" || reg.calls != 1 {
		t.Errorf("unexpected upload: %+v, syncs = %d", up, reg.calls)
	}

	req = httptest.NewRequest(http.MethodGet, up.URL, nil)
	w = httptest.NewRecorder()
	root.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), testutil.PNG) {
		t.Errorf("serve status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/media/2024/05/missing.png", nil)
	w = httptest.NewRecorder()
	root.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}
