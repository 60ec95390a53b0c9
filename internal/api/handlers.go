package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mwhitley/ticketsync/internal/apperr"
	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc   *syncservice.Service
	store *ledger.Store
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service, store *ledger.Store) *Handler {
	return &Handler{svc: svc, store: store}
}

// Status handles GET /api/status.
//
//	@Summary		Report scheduler state
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
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
	writeJSON(w, http.StatusOK, body)
}

// Process handles POST /api/process. It kicks off a drain in the background
// and returns immediately.
//
//	@Summary		Trigger an immediate drain
//	@Tags			sync
//	@Produce		json
//	@Success		202	{object}	AcceptedResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/process [post]
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ProcessNow(); err != nil {
		if errors.Is(err, apperr.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, errorBody("a run is already in progress"))
			return
		}
		slog.Error("process trigger failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "processing"})
}

// SetInterval handles PUT /api/interval.
//
//	@Summary		Change the processing cadence
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IntervalRequest	true	"New interval, Go duration syntax"
//	@Success		200		{object}	IntervalResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/interval [put]
func (h *Handler) SetInterval(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Interval == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("interval is required"))
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid duration: use Go syntax such as 5m or 1h30m"))
		return
	}
	if err := h.svc.SetInterval(d); err != nil {
		if errors.Is(err, apperr.ErrInvalidInterval) {
			writeJSON(w, http.StatusBadRequest, errorBody("interval must be positive"))
			return
		}
		slog.Error("set interval failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interval": d.String()})
}

// Submissions handles GET /api/submissions.
//
//	@Summary		List recent ticket submissions, newest first
//	@Tags			sync
//	@Produce		json
//	@Param			limit	query		int	false	"Max entries"
//	@Success		200		{object}	SubmissionListResponse
//	@Security		BearerAuth
//	@Router			/submissions [get]
func (h *Handler) Submissions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.store.Recent(limit)
	if err != nil {
		slog.Error("list submissions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	total, err := h.store.Total()
	if err != nil {
		slog.Error("count submissions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": entries,
		"total":       total,
	})
}
