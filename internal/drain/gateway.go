package drain

import (
	"context"
	"time"
)

// Gateway is the boundary to the external issue tracker. Connect is called
// once per ProcessFile invocation; Create must be idempotent with respect to
// the fingerprint (an open ticket carrying the same fingerprint is returned
// instead of creating a duplicate).
type Gateway interface {
	Connect(ctx context.Context) error
	Create(ctx context.Context, summary string, labels []string, fingerprint string) (string, error)
}

// Submission describes one line successfully turned into a ticket.
type Submission struct {
	Fingerprint string
	TicketKey   string
	Summary     string
	Labels      []string
	SourceFile  string
	CreatedAt   time.Time
}
