// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes ticketsync controls for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/syncservice"
)

// Server wraps the MCP server with ticketsync tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *syncservice.Service
	store *ledger.Store
}

// New creates a new MCP server with all ticketsync tools registered.
func New(svc *syncservice.Service, store *ledger.Store) *Server {
	s := &Server{svc: svc, store: store}

	s.mcp = server.NewMCPServer(
		"TicketSync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report the synchronization scheduler state: whether a run is in flight, the processing interval, and the last run time."),
	), s.status)

	s.mcp.AddTool(mcp.NewTool("process_now",
		mcp.WithDescription("Trigger an immediate drain of the inbox file. Fails when a run is already in progress."),
	), s.processNow)

	s.mcp.AddTool(mcp.NewTool("set_interval",
		mcp.WithDescription("Change the periodic processing cadence."),
		mcp.WithString("interval", mcp.Required(), mcp.Description("New interval in Go duration syntax (e.g. 5m, 1h30m)")),
	), s.setInterval)

	s.mcp.AddTool(mcp.NewTool("recent_submissions",
		mcp.WithDescription("List the most recently created tickets, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max entries to return (default 50)")),
	), s.recentSubmissions)

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

func (s *Server) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.svc.Status()
	body := map[string]any{
		"running":    st.Running,
		"processing": st.Processing,
		"interval":   st.Interval.String(),
	}
	if st.LastRun.IsZero() {
		body["last_run"] = nil
	} else {
		body["last_run"] = st.LastRun.Format(time.RFC3339)
	}
	out, _ := json.MarshalIndent(body, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) processNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ProcessNow(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("processing started"), nil
}

func (s *Server) setInterval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("interval")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid duration %q: use Go syntax such as 5m or 1h30m", raw)), nil
	}
	if err := s.svc.SetInterval(d); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("interval set to %s", d)), nil
}

func (s *Server) recentSubmissions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 0
	if n, err := req.RequireFloat("limit"); err == nil {
		limit = int(n)
	}
	entries, err := s.store.Recent(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no submissions recorded"), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
