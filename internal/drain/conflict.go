package drain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConflictFiles returns the sibling conflict-copy files a file-sync tool may
// have produced next to path, matching <name>.sync-conflict-*.txt in the same
// directory. Order is unspecified; the slice is empty when there are none.
func ConflictFiles(path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	pattern := filepath.Join(dir, name+".sync-conflict-*.txt")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("drain: conflict glob %s: %w", pattern, err)
	}
	return matches, nil
}
