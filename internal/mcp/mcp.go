// Package mcp implements a read-only Model Context Protocol server over
// the audit trace store, so MCP-compatible agents can inspect what the
// intake pipeline did without touching it.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiroku-ai/kiroku/internal/trace"
)

// Server wraps the MCP server with the trace store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     trace.Store
	logger    *slog.Logger
}

// New creates and configures the MCP server with all resources and tools.
func New(store trace.Store, version string, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kiroku://trace/recent — latest audit records.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kiroku://trace/recent",
			"Recent Trace Records",
			mcplib.WithResourceDescription("The most recent document intake audit records"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTraceRecentResource,
	)
}

func (s *Server) registerTools() {
	// kiroku_recent — list recent pipeline runs.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_recent",
			mcplib.WithDescription("List recent document intake runs: format, intent, validity, and action taken"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum records to return")),
		),
		s.handleRecent,
	)

	// kiroku_inspect — full detail of one audit record.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_inspect",
			mcplib.WithDescription("Inspect one audit record in full, including the extracted agent result"),
			mcplib.WithNumber("trace_id", mcplib.Description("Trace record ID"), mcplib.Required()),
		),
		s.handleInspect,
	)
}

func (s *Server) handleTraceRecentResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	records, err := s.store.Recent(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent records: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal records: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kiroku://trace/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// recentSummary is the compact per-record view returned by kiroku_recent.
type recentSummary struct {
	ID          int64  `json:"id"`
	Timestamp   string `json:"timestamp"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Intent      string `json:"intent"`
	Valid       bool   `json:"valid"`
	ActionTaken string `json:"action_taken"`
}

func (s *Server) handleRecent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 10)

	records, err := s.store.Recent(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	summaries := make([]recentSummary, 0, len(records))
	for _, r := range records {
		valid := false
		if res, err := r.DecodeResult(); err == nil {
			valid = res.Valid
		}
		summaries = append(summaries, recentSummary{
			ID:          r.ID,
			Timestamp:   r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Filename:    r.Filename,
			Format:      string(r.Format),
			Intent:      string(r.Intent),
			Valid:       valid,
			ActionTaken: r.ActionTaken,
		})
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"records": summaries,
		"total":   len(summaries),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleInspect(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetInt("trace_id", 0)
	if id <= 0 {
		return errorResult("trace_id is required and must be positive"), nil
	}

	rec, err := s.store.Get(ctx, int64(id))
	if errors.Is(err, trace.ErrNotFound) {
		return errorResult(fmt.Sprintf("no trace record with id %d", id)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	resultData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal record: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
