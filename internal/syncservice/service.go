// Package syncservice schedules drain invocations over the inbox file and
// guards against overlapping runs. It exposes the UI-agnostic operations any
// front end (HTTP, MCP, cron) drives: process now, set interval, status.
package syncservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mwhitley/ticketsync/internal/apperr"
	"github.com/mwhitley/ticketsync/internal/events"
)

// DefaultInterval matches the original five-minute processing cadence.
const DefaultInterval = 5 * time.Minute

// Processor is the synchronization entry point the service drives.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (int, error)
}

// Status is a snapshot of the service state.
type Status struct {
	Running    bool
	Processing bool
	Interval   time.Duration
	LastRun    time.Time // zero when no run has completed yet
}

// Service owns the processing schedule. At most one drain invocation is in
// flight at a time; the in-progress flag suppresses overlap between the
// periodic loop, the watcher, and manual triggers.
type Service struct {
	proc   Processor
	inbox  string
	logger *slog.Logger
	broker *events.Broker // optional; nil disables event publishing

	// Debounce delays watcher-triggered runs to coalesce bursts of file
	// events. Quiet suppresses watcher triggers right after a run, when the
	// drain's own rewrite fires change events for the file it just processed.
	Debounce time.Duration
	Quiet    time.Duration

	mu         sync.Mutex
	interval   time.Duration
	lastRun    time.Time
	running    bool
	processing bool

	reconfig chan struct{}
}

// New creates a Service. A non-positive interval falls back to the default.
func New(proc Processor, inbox string, interval time.Duration, logger *slog.Logger, broker *events.Broker) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		proc:     proc,
		inbox:    inbox,
		logger:   logger,
		broker:   broker,
		Debounce: 500 * time.Millisecond,
		Quiet:    2 * time.Second,
		interval: interval,
		reconfig: make(chan struct{}, 1),
	}
}

// Run executes the periodic loop: one drain at startup, then one per
// interval, until ctx is cancelled. Interval changes take effect immediately.
func (s *Service) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("scheduler: started",
		slog.String("inbox", s.inbox),
		slog.Duration("interval", s.Interval()))

	s.runOnce(ctx)

	for {
		timer := time.NewTimer(s.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler: stopped")
			return nil
		case <-s.reconfig:
			timer.Stop()
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// ProcessNow triggers a drain in the background. It returns
// apperr.ErrAlreadyRunning when an invocation is already in flight.
func (s *Service) ProcessNow() error {
	if !s.tryBegin() {
		return apperr.ErrAlreadyRunning
	}
	go func() {
		defer s.end()
		// Manual runs are never cancelled mid-drain; the engine's crash
		// safety covers abrupt process exit.
		s.run(context.Background())
	}()
	return nil
}

// SetInterval changes the processing cadence. The duration must be positive.
func (s *Service) SetInterval(d time.Duration) error {
	if d <= 0 {
		return apperr.ErrInvalidInterval
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()

	select {
	case s.reconfig <- struct{}{}:
	default:
	}
	s.logger.Info("scheduler: interval changed", slog.Duration("interval", d))
	return nil
}

// Interval returns the current processing cadence.
func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Status returns a snapshot of the scheduler state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:    s.running,
		Processing: s.processing,
		Interval:   s.interval,
		LastRun:    s.lastRun,
	}
}

// runOnce runs a drain if none is in flight; overlap is silently skipped,
// matching the original scheduler's behaviour.
func (s *Service) runOnce(ctx context.Context) {
	if !s.tryBegin() {
		return
	}
	defer s.end()
	s.run(ctx)
}

// run performs one drain invocation. The caller must hold the in-progress flag.
func (s *Service) run(ctx context.Context) {
	count, err := s.proc.ProcessFile(ctx, s.inbox)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sync: run failed",
			slog.Int("tickets", count),
			slog.String("error", err.Error()))
		s.publish(events.Event{Type: "sync.failed", Data: map[string]any{
			"tickets": count,
			"error":   err.Error(),
		}})
		return
	}
	s.logger.Info("sync: run completed", slog.Int("tickets", count))
	s.publish(events.Event{Type: "sync.completed", Data: map[string]any{
		"tickets": count,
	}})
}

func (s *Service) publish(e events.Event) {
	if s.broker != nil {
		s.broker.Publish(e)
	}
}

func (s *Service) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Service) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
