// Package testutil provides shared test helpers for setting up ledgers and inbox files.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mwhitley/ticketsync/internal/ledger"
)

// TestLedger creates a temporary SQLite submission log that is automatically cleaned up.
func TestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// WriteInbox writes an inbox file with the given content and returns its path.
func WriteInbox(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
