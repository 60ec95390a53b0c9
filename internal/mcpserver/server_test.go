package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/syncservice"
	"github.com/mwhitley/ticketsync/internal/testutil"
)

type noopProcessor struct{}

func (noopProcessor) ProcessFile(context.Context, string) (int, error) { return 0, nil }

func testServer(t *testing.T) (*Server, *syncservice.Service, *ledger.Store) {
	t.Helper()

	store := testutil.TestLedger(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := syncservice.New(noopProcessor{}, filepath.Join(t.TempDir(), "tickets.txt"), time.Hour, logger, nil)

	srv := New(svc, store)
	return srv, svc, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so we dispatch to the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "status":
		result, err = srv.status(ctx, req)
	case "process_now":
		result, err = srv.processNow(ctx, req)
	case "set_interval":
		result, err = srv.setInterval(ctx, req)
	case "recent_submissions":
		result, err = srv.recentSubmissions(ctx, req)
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

func TestStatusTool(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "status", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"interval": "1h0m0s"`) {
		t.Errorf("status = %q, want interval field", text)
	}
	if !strings.Contains(text, `"last_run": null`) {
		t.Errorf("status = %q, want null last_run before first run", text)
	}
}

func TestSetIntervalTool(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "set_interval", map[string]interface{}{"interval": "10m"})
	if r.IsError {
		t.Fatalf("set_interval failed: %q", resultText(r))
	}
	if got := svc.Interval(); got != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", got)
	}
}

func TestSetIntervalTool_Invalid(t *testing.T) {
	srv, _, _ := testServer(t)

	for _, raw := range []string{"soon", "-5m", "0s"} {
		r := callTool(t, srv, "set_interval", map[string]interface{}{"interval": raw})
		if !r.IsError {
			t.Errorf("set_interval(%q) should error", raw)
		}
	}
}

func TestProcessNowTool(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "process_now", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("process_now failed: %q", resultText(r))
	}
	if resultText(r) != "processing started" {
		t.Errorf("result = %q", resultText(r))
	}

	// Wait for the background run to finish.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && svc.Status().Processing {
		time.Sleep(5 * time.Millisecond)
	}
	if svc.Status().LastRun.IsZero() {
		t.Error("last run should be set after the triggered run completes")
	}
}

func TestRecentSubmissionsTool(t *testing.T) {
	srv, _, store := testServer(t)

	r := callTool(t, srv, "recent_submissions", map[string]interface{}{})
	if resultText(r) != "no submissions recorded" {
		t.Errorf("empty ledger result = %q", resultText(r))
	}

	err := store.Record(ledger.Entry{
		Fingerprint: "abc123def456",
		TicketKey:   "PROJ-7",
		Summary:     "Fix the gate",
		Labels:      []string{"home"},
		SourceFile:  "tickets.txt",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	r = callTool(t, srv, "recent_submissions", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "PROJ-7") {
		t.Errorf("submissions = %q, want PROJ-7", text)
	}
}
