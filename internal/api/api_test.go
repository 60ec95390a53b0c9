package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/syncservice"
	"github.com/mwhitley/ticketsync/internal/testutil"
)

// stubProcessor lets tests control how long a drain takes.
type stubProcessor struct {
	block chan struct{} // when non-nil, ProcessFile waits on it
}

func (p *stubProcessor) ProcessFile(context.Context, string) (int, error) {
	if p.block != nil {
		<-p.block
	}
	return 0, nil
}

// testEnv sets up a temp ledger, scheduler service, and router for testing.
// authToken="" means disabled mode; non-empty means token mode.
func testEnv(t *testing.T, authToken string) (*syncservice.Service, *ledger.Store, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, &stubProcessor{}, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, token string, proc syncservice.Processor, sse http.Handler) (*syncservice.Service, *ledger.Store, http.Handler) {
	t.Helper()

	store := testutil.TestLedger(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := syncservice.New(proc, filepath.Join(t.TempDir(), "tickets.txt"), time.Hour, logger, nil)

	router := NewRouter(svc, store, authEnabled, token, sse)
	return svc, store, router
}

func TestStatusEndpoint(t *testing.T) {
	_, _, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["processing"] != false {
		t.Errorf("processing = %v, want false", resp["processing"])
	}
	if resp["interval"] != "1h0m0s" {
		t.Errorf("interval = %v", resp["interval"])
	}
	if resp["last_run"] != nil {
		t.Errorf("last_run = %v, want null before first run", resp["last_run"])
	}
}

func TestProcessEndpoint(t *testing.T) {
	proc := &stubProcessor{block: make(chan struct{})}
	_, _, router := testEnvFull(t, false, "", proc, nil)

	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("process = %d, body = %s", w.Code, w.Body.String())
	}

	// A second trigger while the first run is still in flight conflicts.
	req = httptest.NewRequest(http.MethodPost, "/process", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("concurrent process = %d, want 409", w.Code)
	}

	close(proc.block)
}

func TestSetIntervalEndpoint(t *testing.T) {
	svc, _, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"interval": "15m"})
	req := httptest.NewRequest(http.MethodPut, "/interval", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("set interval = %d, body = %s", w.Code, w.Body.String())
	}
	if got := svc.Interval(); got != 15*time.Minute {
		t.Errorf("interval = %v, want 15m", got)
	}
}

func TestSetIntervalEndpoint_Invalid(t *testing.T) {
	_, _, router := testEnv(t, "")

	cases := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"missing field", `{}`},
		{"bad syntax", `{"interval":"five minutes"}`},
		{"zero", `{"interval":"0s"}`},
		{"negative", `{"interval":"-5m"}`},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPut, "/interval", bytes.NewReader([]byte(c.body)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: set interval = %d, want 400", c.name, w.Code)
		}
	}
}

func TestSubmissionsEndpoint(t *testing.T) {
	_, store, router := testEnv(t, "")

	for _, key := range []string{"PROJ-1", "PROJ-2", "PROJ-3"} {
		err := store.Record(ledger.Entry{
			Fingerprint: "abc123def456",
			TicketKey:   key,
			Summary:     "Buy milk",
			Labels:      []string{"errand"},
			SourceFile:  "tickets.txt",
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/submissions?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("submissions = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	subs := resp["submissions"].([]any)
	if len(subs) != 2 {
		t.Errorf("len(submissions) = %d, want 2", len(subs))
	}
	if resp["total"] != float64(3) {
		t.Errorf("total = %v, want 3", resp["total"])
	}
	first := subs[0].(map[string]any)
	if first["ticket_key"] != "PROJ-3" {
		t.Errorf("first ticket_key = %v, want newest first", first["ticket_key"])
	}
}

func TestSubmissionsEndpoint_Empty(t *testing.T) {
	_, _, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/submissions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("submissions = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if subs, ok := resp["submissions"].([]any); !ok || len(subs) != 0 {
		t.Errorf("submissions = %v, want empty array", resp["submissions"])
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, _, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, _, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, _, router := testEnvFull(t, true, "secret", &stubProcessor{}, blockingSSE())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, _, router := testEnvFull(t, true, "tok", &stubProcessor{}, blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// blockingSSE is a minimal SSE handler stub that writes headers and blocks
// until the request context is done.
func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}
