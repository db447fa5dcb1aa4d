package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/checksum"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/storage"
	"github.com/starford/kenaz-import/internal/store"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000fake-png-body")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testLibrary(t *testing.T, fetch Downloader) (*Library, *store.DB, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFS(filepath.Join(dir, "media"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(filepath.Join(dir, "store.db"), store.Options{Kinds: []string{"post"}})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if fetch == nil {
		fetch = NewFetcher(FetchConfig{AllowPrivateHosts: true})
	}
	lib := NewLibrary(db, files, fetch, "https://new.example.com/media/", quietLogger())
	lib.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return lib, db, files
}

func assetServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		case r.URL.Path == "/noname":
			_, _ = w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadAndRegister(t *testing.T) {
	lib, _, files := testLibrary(t, nil)
	srv := assetServer(t, nil)
	ctx := context.Background()

	a, err := lib.DownloadAndRegister(ctx, srv.URL+"/img/My%20Photo.png?x=1", 7)
	if err != nil {
		t.Fatalf("DownloadAndRegister: %v", err)
	}
	if a.File != "2024/05/My-Photo.png" || a.ParentID != 7 || a.MimeType != "image/png" {
		t.Errorf("asset = %+v", a)
	}
	if !files.Exists(a.File) {
		t.Error("file not written")
	}
	if got := lib.URL(a); got != "https://new.example.com/media/2024/05/My-Photo.png" {
		t.Errorf("URL = %q", got)
	}

	b, err := lib.DownloadAndRegister(ctx, srv.URL+"/other/My%20Photo.png", 7)
	if err != nil {
		t.Fatal(err)
	}
	if b.File != "2024/05/My-Photo-1.png" {
		t.Errorf("second file = %q, want numbered name", b.File)
	}
}

// watcherFirst registers every downloaded file from the directory before
// the download itself inserts its row.
type watcherFirst struct {
	*store.DB
	lib *Library
}

func (w *watcherFirst) CreateMedia(ctx context.Context, m *models.MediaAsset) (int64, error) {
	if m.SourceURL != "" {
		if err := w.lib.registerFile(ctx, m.File, false); err != nil {
			return 0, err
		}
	}
	return w.DB.CreateMedia(ctx, m)
}

func TestDownloadClaimsFileRegisteredByWatcher(t *testing.T) {
	lib, db, files := testLibrary(t, nil)
	lib.repo = &watcherFirst{DB: db, lib: lib}
	srv := assetServer(t, nil)
	ctx := context.Background()

	url := srv.URL + "/img/raced.png"
	a, err := lib.DownloadAndRegister(ctx, url, 9)
	if err != nil {
		t.Fatalf("DownloadAndRegister: %v", err)
	}
	if !files.Exists("2024/05/raced.png") {
		t.Fatal("downloaded file was removed")
	}
	if a.ID == 0 || a.SourceURL != url || a.ParentID != 9 || a.MimeType != "image/png" {
		t.Errorf("asset = %+v", a)
	}
	known, err := db.MediaChecksums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 1 {
		t.Errorf("registry rows = %d, want 1", len(known))
	}
}

func TestDownloadFallbackName(t *testing.T) {
	lib, _, _ := testLibrary(t, nil)
	srv := assetServer(t, nil)

	a, err := lib.DownloadAndRegister(context.Background(), srv.URL+"/noname", 1)
	if err != nil {
		t.Fatalf("DownloadAndRegister: %v", err)
	}
	if !strings.HasSuffix(a.File, ".png") || len(filepath.Base(a.File)) != 36+4 {
		t.Errorf("fallback name = %q", a.File)
	}
}

func TestDownloadFailureIsAssetFetch(t *testing.T) {
	lib, _, _ := testLibrary(t, nil)
	srv := assetServer(t, nil)

	_, err := lib.DownloadAndRegister(context.Background(), srv.URL+"/missing.jpg", 1)
	if !errors.Is(err, apperr.ErrAssetFetch) {
		t.Fatalf("err = %v, want ErrAssetFetch", err)
	}
}

func TestConcurrentDownloadsShareOneFetch(t *testing.T) {
	var hits int32
	lib, _, _ := testLibrary(t, nil)
	srv := assetServer(t, &hits)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := lib.DownloadAndRegister(context.Background(), srv.URL+"/same.png", 1)
			if err == nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()
	if n := atomic.LoadInt32(&hits); n < 1 || n > int32(len(ids)) {
		t.Fatalf("hits = %d", n)
	}
	for _, id := range ids {
		if id == 0 {
			t.Fatal("a concurrent download failed")
		}
	}
}

func TestFindByNormalizedName(t *testing.T) {
	lib, db, _ := testLibrary(t, nil)
	ctx := context.Background()

	scaled := &models.MediaAsset{File: "2020/01/big-scaled.jpg", MimeType: "image/jpeg", Checksum: "s"}
	titled := &models.MediaAsset{File: "2020/01/x.jpg", Title: "sunset", Slug: "sunset", MimeType: "image/jpeg", Checksum: "t"}
	for _, m := range []*models.MediaAsset{scaled, titled} {
		if _, err := db.CreateMedia(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	if a, ok, err := lib.FindByNormalizedName(ctx, "big.jpg"); err != nil || !ok || a.ID != scaled.ID {
		t.Errorf("scaled lookup: %v %v %v", a, ok, err)
	}
	if a, ok, err := lib.FindByNormalizedName(ctx, "sunset.jpg"); err != nil || !ok || a.ID != titled.ID {
		t.Errorf("title lookup: %v %v %v", a, ok, err)
	}
	if _, ok, err := lib.FindByNormalizedName(ctx, "nothing.jpg"); err != nil || ok {
		t.Errorf("miss: ok=%v err=%v", ok, err)
	}
}

func TestFindOnDiskByChecksumAndOrphanRemoval(t *testing.T) {
	lib, db, files := testLibrary(t, nil)
	ctx := context.Background()

	if err := files.Write("2024/05/known.png", pngBytes); err != nil {
		t.Fatal(err)
	}
	reg := &models.MediaAsset{File: "2019/01/original.png", MimeType: "image/png", Checksum: checksum.Sum(pngBytes)}
	if _, err := db.CreateMedia(ctx, reg); err != nil {
		t.Fatal(err)
	}
	if a, ok, err := lib.FindByNormalizedName(ctx, "known.png"); err != nil || !ok || a.ID != reg.ID {
		t.Fatalf("checksum lookup: %v %v %v", a, ok, err)
	}

	if err := files.Write("2024/05/orphan.txt", []byte("orphan")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := lib.FindByNormalizedName(ctx, "orphan.txt"); err != nil || ok {
		t.Fatalf("orphan: ok=%v err=%v", ok, err)
	}
	if files.Exists("2024/05/orphan.txt") {
		t.Error("orphan file not removed")
	}
}

func TestSetAssetMetadata(t *testing.T) {
	lib, db, _ := testLibrary(t, nil)
	ctx := context.Background()
	m := &models.MediaAsset{File: "a.jpg", Title: "a", MimeType: "image/jpeg"}
	if _, err := db.CreateMedia(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := lib.SetAssetMetadata(ctx, m.ID, Metadata{Caption: "cap", Alt: "alt"}); err != nil {
		t.Fatal(err)
	}
	got, _ := lib.Get(ctx, m.ID)
	if got.Title != "a" || got.Caption != "cap" || got.Alt != "alt" {
		t.Errorf("asset = %+v", got)
	}
}

func TestSync(t *testing.T) {
	lib, db, files := testLibrary(t, nil)
	ctx := context.Background()

	_ = files.Write("dropped/new.png", pngBytes)
	if _, err := db.CreateMedia(ctx, &models.MediaAsset{File: "gone.png", Checksum: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := lib.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	known, _ := db.MediaChecksums(ctx)
	if _, ok := known["dropped/new.png"]; !ok {
		t.Error("new file not registered")
	}
	if _, ok := known["gone.png"]; ok {
		t.Error("stale entry not removed")
	}
}

func TestWatchRegistersDroppedFile(t *testing.T) {
	lib, db, files := testLibrary(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	go lib.Watch(ctx, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(files.Root(), "hand.png"), pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		known, _ := db.MediaChecksums(context.Background())
		if _, ok := known["hand.png"]; ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("watcher did not register hand.png")
}

func TestFetcherBlocksLoopback(t *testing.T) {
	srv := assetServer(t, nil)
	f := NewFetcher(FetchConfig{})
	if _, err := f.Fetch(context.Background(), srv.URL+"/a.png"); err == nil || !strings.Contains(err.Error(), "blocked host") {
		t.Fatalf("err = %v, want blocked host", err)
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/a.png"); err == nil {
		t.Fatal("ftp: want unsupported scheme")
	}
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{AllowPrivateHosts: true, MaxElapsed: 10 * time.Second})
	d, err := f.Fetch(context.Background(), srv.URL+"/x.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.MimeType != "image/png" || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("mime=%q calls=%d", d.MimeType, calls)
	}
}

func TestFetcherSizeLimitIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{AllowPrivateHosts: true, MaxBytes: 16})
	if _, err := f.Fetch(context.Background(), srv.URL+"/big.bin"); err == nil {
		t.Fatal("want size error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}
