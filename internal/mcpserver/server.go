// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes import lookups for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/importservice"
	"github.com/starford/kenaz-import/internal/models"
)

// Sideloader downloads and registers remote media.
type Sideloader interface {
	DownloadAndRegister(ctx context.Context, rawURL string, ownerID int64) (*models.MediaAsset, error)
	URL(a *models.MediaAsset) string
}

// Server wraps the MCP server with import tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *importservice.Service
	media Sideloader
}

// New creates a new MCP server with all tools registered. media may be nil,
// in which case sideload_asset is not offered.
func New(svc *importservice.Service, media Sideloader) *Server {
	s := &Server{svc: svc, media: media}

	s.mcp = server.NewMCPServer(
		"kenaz-import",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("lookup_local_id",
		mcp.WithDescription("Return the local item id an external record id was imported as."),
		mcp.WithString("external_id", mcp.Required(), mcp.Description("Id of the record in the source database")),
	), s.lookupLocalID)

	s.mcp.AddTool(mcp.NewTool("get_item",
		mcp.WithDescription("Read an imported item with its metadata, terms and canonical URL."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Local item id")),
	), s.getItem)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Full-text search through imported item titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("list_redirects",
		mcp.WithDescription("List redirect rules created from legacy URLs."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rules (default 100)")),
	), s.listRedirects)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent import runs with their outcome counts, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_mapping_contract",
		mcp.WithDescription("Returns the mapping configuration format that turns source rows into records. "+
			"Call this before proposing a mapping section."),
	), s.getMappingContract)

	if media != nil {
		s.mcp.AddTool(mcp.NewTool("sideload_asset",
			mcp.WithDescription("Download a remote file into the media library, reusing an existing copy when one is registered."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL of the file")),
			mcp.WithNumber("owner_id", mcp.Description("Optional local item id the asset belongs to")),
		), s.sideloadAsset)
	}

	s.mcp.AddResource(
		mcp.NewResource("kenaz-import://mapping-format", "Mapping Format Contract",
			mcp.WithResourceDescription("Mapping configuration format for source rows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMappingResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) lookupLocalID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ext, err := req.RequireString("external_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.svc.LookupLocalID(ctx, ext)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not imported: %s", ext)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", id)), nil
}

func (s *Server) getItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.svc.GetItem(ctx, int64(id))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %d", int64(id))), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) listRedirects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := s.svc.ListRedirects(ctx, req.GetInt("limit", 100))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rules) == 0 {
		return mcp.NewToolResultText("no redirects found"), nil
	}
	return jsonResult(rules), nil
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.ListRuns(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(runs), nil
}

func (s *Server) sideloadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	owner := int64(req.GetInt("owner_id", 0))
	a, err := s.media.DownloadAndRegister(ctx, rawURL, owner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"id":        a.ID,
		"file":      a.File,
		"url":       s.media.URL(a),
		"mime_type": a.MimeType,
	}), nil
}

func (s *Server) getMappingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MappingFormatContract), nil
}

func (s *Server) readMappingResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "kenaz-import://mapping-format",
			MIMEType: "text/markdown",
			Text:     MappingFormatContract,
		},
	}, nil
}
