package mcpserver

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/importservice"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/source"
	"github.com/starford/kenaz-import/internal/store"
	"github.com/starford/kenaz-import/internal/testutil"
)

func testServer(t *testing.T) (*Server, *store.DB, *importer.Report) {
	t.Helper()
	db := testutil.TestStore(t, store.Options{Redirects: true})
	lib, _ := testutil.TestMedia(t, db)

	m, err := mapper.NewColumnMapper(mapper.Config{
		ExternalID: "id",
		Fields:     map[string]string{"title": "title", "body": "body"},
	})
	if err != nil {
		t.Fatalf("NewColumnMapper: %v", err)
	}
	rows := []source.Row{{"id": "ext-1", "title": "Harbour news", "body": "ferry schedule changes"}}
	svc := importservice.NewService(db, func(ctx context.Context, req importservice.ImportRequest) (*importer.Report, error) {
		return importer.New(db, m, importer.Config{}, testutil.Logger()).Import(ctx, rows, req.Kind)
	})
	report, err := svc.Import(context.Background(), importservice.ImportRequest{Kind: "post"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return New(svc, lib), db, report
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "lookup_local_id":
		result, err = srv.lookupLocalID(ctx, req)
	case "get_item":
		result, err = srv.getItem(ctx, req)
	case "search_items":
		result, err = srv.searchItems(ctx, req)
	case "list_redirects":
		result, err = srv.listRedirects(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "sideload_asset":
		result, err = srv.sideloadAsset(ctx, req)
	case "get_mapping_contract":
		result, err = srv.getMappingContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestLookupAndGetItem(t *testing.T) {
	srv, _, report := testServer(t)

	r := callTool(t, srv, "lookup_local_id", map[string]any{"external_id": "ext-1"})
	if r.IsError {
		t.Fatalf("lookup error: %s", resultText(r))
	}
	id := report.Outcomes[0].LocalID
	if got := resultText(r); got != strconv.FormatInt(id, 10) {
		t.Errorf("lookup = %q, want %d", got, id)
	}

	r = callTool(t, srv, "get_item", map[string]any{"id": float64(id)})
	if r.IsError || !strings.Contains(resultText(r), `"title": "Harbour news"`) {
		t.Errorf("get_item = %q", resultText(r))
	}
}

func TestLookupMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "lookup_local_id", map[string]any{"external_id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown external id")
	}
	r = callTool(t, srv, "get_item", map[string]any{"id": float64(999)})
	if !r.IsError {
		t.Error("expected error for missing item")
	}
}

func TestSearchAndRuns(t *testing.T) {
	srv, _, report := testServer(t)

	r := callTool(t, srv, "search_items", map[string]any{"query": "ferry"})
	if !strings.Contains(resultText(r), "Harbour news") {
		t.Errorf("search = %q", resultText(r))
	}

	r = callTool(t, srv, "list_runs", map[string]any{})
	if !strings.Contains(resultText(r), report.RunID) {
		t.Errorf("runs = %q", resultText(r))
	}
}

func TestListRedirects(t *testing.T) {
	srv, db, _ := testServer(t)
	r := callTool(t, srv, "list_redirects", map[string]any{})
	if resultText(r) != "no redirects found" {
		t.Errorf("empty redirects = %q", resultText(r))
	}

	ctx := context.Background()
	gid, err := db.GetOrCreateGroup(ctx, "db2wpmigration")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateRule(ctx, gid, "/old.php?id=1", "/harbour-news/", 301); err != nil {
		t.Fatal(err)
	}
	r = callTool(t, srv, "list_redirects", map[string]any{"limit": float64(10)})
	if !strings.Contains(resultText(r), "/old.php?id=1") {
		t.Errorf("redirects = %q", resultText(r))
	}
}

func TestSideloadAsset(t *testing.T) {
	srv, _, _ := testServer(t)
	assets := testutil.AssetServer(t, nil)

	r := callTool(t, srv, "sideload_asset", map[string]any{"url": assets.URL + "/img/cover.png"})
	if r.IsError {
		t.Fatalf("sideload error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "cover.png") {
		t.Errorf("sideload = %q", resultText(r))
	}

	r = callTool(t, srv, "sideload_asset", map[string]any{"url": assets.URL + "/img/missing.png"})
	if !r.IsError {
		t.Error("expected error for missing asset")
	}
}

func TestMappingContract(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_mapping_contract", map[string]any{})
	if !strings.Contains(resultText(r), "external_id") {
		t.Error("contract missing external_id")
	}
}
