// Package drain implements the file-to-ticket synchronization engine: it
// consumes non-blank lines from a notes file under an exclusive lock, submits
// each to the ticket gateway, and rewrites the file with only the lines that
// failed. Conflict-copy siblings are drained the same way and then removed,
// with any leftover lines merged back into the primary file.
package drain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwhitley/ticketsync/internal/fingerprint"
	"github.com/mwhitley/ticketsync/internal/lineparse"
)

// DefaultBackoff is the wait between attempts to lock a contended file.
const DefaultBackoff = time.Second

// Drainer drains notes files into tickets through a Gateway. A Drainer
// serializes nothing itself; the caller must not run two invocations of
// ProcessFile concurrently. Cross-process safety comes from the per-file lock.
type Drainer struct {
	gw     Gateway
	logger *slog.Logger

	// Backoff is the lock retry interval. Tests shorten it.
	Backoff time.Duration

	// OnSubmit, when set, is called after every successful submission.
	OnSubmit func(Submission)
}

// New creates a Drainer with the default lock backoff.
func New(gw Gateway, logger *slog.Logger) *Drainer {
	return &Drainer{gw: gw, logger: logger, Backoff: DefaultBackoff}
}

// ProcessFile is the synchronization entry point: it establishes one gateway
// session, drains the primary file, then drains and removes every conflict
// sibling. A connection failure aborts before any file is touched. The return
// value is the number of lines turned into tickets across all files.
func (d *Drainer) ProcessFile(ctx context.Context, path string) (int, error) {
	if err := d.gw.Connect(ctx); err != nil {
		return 0, fmt.Errorf("drain: connect gateway: %w", err)
	}

	var errs []error
	total := 0

	d.logger.Info("drain: processing file", slog.String("path", path))
	n, err := d.Drain(ctx, path)
	total += n
	if err != nil {
		d.logger.Error("drain: primary file failed",
			slog.String("path", path), slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	conflicts, err := ConflictFiles(path)
	if err != nil {
		errs = append(errs, err)
	}
	for _, cf := range conflicts {
		d.logger.Info("drain: processing conflict file", slog.String("path", cf))
		n, err := d.Drain(ctx, cf)
		total += n
		if err != nil {
			d.logger.Error("drain: conflict file failed",
				slog.String("path", cf), slog.String("error", err.Error()))
			errs = append(errs, err)
		}

		// Conflict files are transient: whatever could not be converted is
		// merged back into the primary file so no line is lost, then the
		// conflict file is deleted regardless of the drain outcome.
		if err := d.mergeBack(ctx, cf, path); err != nil {
			errs = append(errs, err)
			continue // keep the conflict file rather than lose its lines
		}
		if err := os.Remove(cf); err != nil {
			d.logger.Warn("drain: delete conflict file failed",
				slog.String("path", cf), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("drain: delete %s: %w", cf, err))
		} else {
			d.logger.Info("drain: deleted conflict file", slog.String("path", cf))
		}
	}

	d.logger.Info("drain: finished", slog.String("path", path), slog.Int("tickets", total))
	return total, errors.Join(errs...)
}

// Drain runs one lock-read-submit-rewrite cycle over a single file and
// returns the number of lines successfully turned into tickets.
//
// The file is rewritten in place while the exclusive lock is held: lines whose
// submission failed are first written to a scratch file in the same directory,
// then the target is truncated and the scratch content copied back. A file
// that was empty to begin with is left untouched. The scratch file is removed
// in a best-effort cleanup even when the drain errors out.
func (d *Drainer) Drain(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.logger.Info("drain: file not found, nothing to do", slog.String("path", path))
			return 0, nil
		}
		return 0, fmt.Errorf("drain: stat %s: %w", path, err)
	}

	scratch, err := os.CreateTemp(filepath.Dir(path), ".ticketsync-scratch-*")
	if err != nil {
		return 0, fmt.Errorf("drain: create scratch: %w", err)
	}
	scratchPath := scratch.Name()
	defer func() {
		if err := os.Remove(scratchPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("drain: scratch cleanup failed",
				slog.String("path", scratchPath), slog.String("error", err.Error()))
		}
	}()

	lock, err := acquireLock(ctx, path, d.Backoff, d.logger)
	if err != nil {
		scratch.Close()
		return 0, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			d.logger.Warn("drain: unlock failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	successes := 0
	empty := true
	scanner := bufio.NewScanner(lock.f)
	for scanner.Scan() {
		empty = false
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue // blank lines are consumed, never rewritten
		}
		if d.submitLine(ctx, raw, path) {
			successes++
			continue
		}
		if _, err := fmt.Fprintln(scratch, raw); err != nil {
			scratch.Close()
			return successes, fmt.Errorf("drain: write scratch: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		scratch.Close()
		return successes, fmt.Errorf("drain: read %s: %w", path, err)
	}

	if err := scratch.Sync(); err != nil {
		scratch.Close()
		return successes, fmt.Errorf("drain: sync scratch: %w", err)
	}
	if err := scratch.Close(); err != nil {
		return successes, fmt.Errorf("drain: close scratch: %w", err)
	}

	if empty {
		return 0, nil // nothing was read, no rewrite needed
	}

	// Replace the target's content with the retained lines while the lock is
	// still held. Truncation is the last step of the critical section, so an
	// earlier failure leaves the original content intact.
	kept, err := os.ReadFile(scratchPath)
	if err != nil {
		return successes, fmt.Errorf("drain: read scratch: %w", err)
	}
	if err := lock.f.Truncate(0); err != nil {
		return successes, fmt.Errorf("drain: truncate %s: %w", path, err)
	}
	if _, err := lock.f.Seek(0, io.SeekStart); err != nil {
		return successes, fmt.Errorf("drain: seek %s: %w", path, err)
	}
	if _, err := lock.f.Write(kept); err != nil {
		return successes, fmt.Errorf("drain: rewrite %s: %w", path, err)
	}
	if err := lock.f.Sync(); err != nil {
		return successes, fmt.Errorf("drain: fsync %s: %w", path, err)
	}

	return successes, nil
}

// submitLine fingerprints, parses, and submits one line. It reports whether
// the line is now durably represented by a ticket; on failure the caller keeps
// the line for a future drain pass.
func (d *Drainer) submitLine(ctx context.Context, raw, source string) bool {
	trimmed := strings.TrimSpace(raw)
	fp := fingerprint.Sum(trimmed)
	parsed := lineparse.Parse(trimmed)

	key, err := d.gw.Create(ctx, parsed.Summary, parsed.Labels, fp)
	if err != nil {
		d.logger.Warn("drain: line deferred",
			slog.String("fingerprint", fp),
			slog.String("summary", parsed.Summary),
			slog.String("error", err.Error()))
		return false
	}

	d.logger.Info("drain: line submitted",
		slog.String("fingerprint", fp),
		slog.String("ticket", key),
		slog.String("summary", parsed.Summary))

	if d.OnSubmit != nil {
		d.OnSubmit(Submission{
			Fingerprint: fp,
			TicketKey:   key,
			Summary:     parsed.Summary,
			Labels:      parsed.Labels,
			SourceFile:  source,
			CreatedAt:   time.Now(),
		})
	}
	return true
}

// mergeBack appends the non-blank residue of a drained conflict file to the
// primary file, under the primary's lock, so failed conflict lines survive the
// conflict file's deletion. A fully drained conflict file is a no-op.
func (d *Drainer) mergeBack(ctx context.Context, conflictPath, primaryPath string) error {
	residue, err := os.ReadFile(conflictPath)
	if err != nil {
		return fmt.Errorf("drain: read residue %s: %w", conflictPath, err)
	}
	if len(strings.TrimSpace(string(residue))) == 0 {
		return nil
	}

	f, err := os.OpenFile(primaryPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("drain: open primary for merge: %w", err)
	}
	f.Close()

	lock, err := acquireLock(ctx, primaryPath, d.Backoff, d.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.release(); err != nil {
			d.logger.Warn("drain: unlock after merge failed",
				slog.String("path", primaryPath), slog.String("error", err.Error()))
		}
	}()

	end, err := lock.f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("drain: seek primary: %w", err)
	}
	if end > 0 {
		// Make sure appended lines start on a fresh line.
		buf := make([]byte, 1)
		if _, err := lock.f.ReadAt(buf, end-1); err != nil {
			return fmt.Errorf("drain: inspect primary tail: %w", err)
		}
		if buf[0] != '\n' {
			if _, err := lock.f.Write([]byte("\n")); err != nil {
				return fmt.Errorf("drain: pad primary: %w", err)
			}
		}
	}
	if _, err := lock.f.Write(residue); err != nil {
		return fmt.Errorf("drain: merge residue into %s: %w", primaryPath, err)
	}
	if err := lock.f.Sync(); err != nil {
		return fmt.Errorf("drain: fsync primary: %w", err)
	}

	d.logger.Info("drain: merged unconverted conflict lines into primary",
		slog.String("conflict", conflictPath), slog.String("primary", primaryPath))
	return nil
}
