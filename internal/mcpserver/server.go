// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Othala tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/calloutservice"
	"github.com/starford/othala/internal/models"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp *server.MCPServer
	svc *calloutservice.Service
}

// New creates a new MCP server with all Othala tools registered.
func New(svc *calloutservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_callouts",
		mcp.WithDescription("Full-text search through callout titles, bodies and heading context."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results. Default: 20")),
	), s.searchCallouts)

	s.mcp.AddTool(mcp.NewTool("list_callouts",
		mcp.WithDescription("List indexed callouts, optionally filtered by type."),
		mcp.WithString("type", mcp.Description("Filter by callout type (e.g. note, warning)")),
		mcp.WithNumber("limit", mcp.Description("Page size. Default: 50")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listCallouts)

	s.mcp.AddTool(mcp.NewTool("get_callout",
		mcp.WithDescription("Get one callout by its block reference, including body, links and timestamps."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path (e.g. topics/axioms.md)")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block identifier (e.g. note-a1b2c3)")),
	), s.getCallout)

	s.mcp.AddTool(mcp.NewTool("extract_document",
		mcp.WithDescription("Re-parse a single document and return its callouts."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. folder/doc.md)")),
	), s.extractDocument)

	s.mcp.AddTool(mcp.NewTool("extract_all",
		mcp.WithDescription("Extract callouts from every vault document, re-parsing only what changed."),
		mcp.WithString("active_path", mcp.Description("Optional document to parse first")),
	), s.extractAll)

	s.mcp.AddTool(mcp.NewTool("refresh_vault",
		mcp.WithDescription("Force a full vault rescan, bypassing the cache."),
	), s.refreshVault)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all callouts that link to the specified block reference."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Target document path")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Target block identifier")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("assign_identifier",
		mcp.WithDescription("Assign a stable block identifier to the callout at or before the given line. "+
			"Idempotent: an already identified callout keeps its id."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
		mcp.WithNumber("line", mcp.Description("1-based line number inside the callout. Default: first callout")),
	), s.assignIdentifier)

	s.mcp.AddTool(mcp.NewTool("build_graph",
		mcp.WithDescription("Regenerate the relationship graph canvas for the callout at or before the given line. "+
			"Assigns an identifier first when the callout has none."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path")),
		mcp.WithNumber("line", mcp.Description("1-based line number inside the callout. Default: first callout")),
	), s.buildGraph)

	s.mcp.AddTool(mcp.NewTool("get_callout_contract",
		mcp.WithDescription("Returns the canonical Othala callout format contract. "+
			"Call this before writing callouts to ensure correct structure."),
	), s.getCalloutContract)

	// Resource: callout format contract.
	s.mcp.AddResource(
		mcp.NewResource("othala://callout-format", "Callout Format Contract",
			mcp.WithResourceDescription("Canonical callout block format that all documents must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCalloutFormatResource,
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

func (s *Server) searchCallouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := int(req.GetFloat("limit", 20))
	results, err := s.svc.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listCallouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := req.GetString("type", "")
	limit := int(req.GetFloat("limit", 50))
	offset := int(req.GetFloat("offset", 0))

	rows, total, err := s.svc.ListCallouts(ctx, limit, offset, typ, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"callouts": rows, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCallout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errResult := refArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	c, err := s.svc.GetCallout(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", ref)), nil
	}
	out, _ := json.MarshalIndent(c, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) extractDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	callouts, err := s.svc.ExtractCurrentDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	out, _ := json.MarshalIndent(callouts, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) extractAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	active := req.GetString("active_path", "")
	callouts, err := s.svc.ExtractAllDocuments(ctx, active)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(extractSummary(callouts)), nil
}

func (s *Server) refreshVault(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callouts, err := s.svc.RefreshAll(ctx, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(extractSummary(callouts)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errResult := refArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	rows, err := s.svc.Backlinks(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) assignIdentifier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line := int(req.GetFloat("line", 0))
	ref, err := s.svc.AssignIdentifier(ctx, path, line)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("assigned: %s", ref)), nil
}

func (s *Server) buildGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line := int(req.GetFloat("line", 0))
	res, err := s.svc.BuildRelationshipGraph(ctx, path, line)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCalloutContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CalloutFormatContract), nil
}

func (s *Server) readCalloutFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "othala://callout-format",
			MIMEType: "text/markdown",
			Text:     CalloutFormatContract,
		},
	}, nil
}

// refArgs pulls the (path, id) pair every block-reference tool takes.
func refArgs(req mcp.CallToolRequest) (models.Ref, *mcp.CallToolResult) {
	path, err := req.RequireString("path")
	if err != nil {
		return models.Ref{}, mcp.NewToolResultError(err.Error())
	}
	id, err := req.RequireString("id")
	if err != nil {
		return models.Ref{}, mcp.NewToolResultError(err.Error())
	}
	return models.Ref{Path: path, ID: id}, nil
}

func extractSummary(callouts []models.Callout) string {
	docs := make(map[string]struct{}, len(callouts))
	for _, c := range callouts {
		docs[c.Path] = struct{}{}
	}
	return fmt.Sprintf("extracted %d callouts across %d documents", len(callouts), len(docs))
}
