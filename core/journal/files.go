package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emirpasic/gods/trees/avltree"
	"github.com/emirpasic/gods/utils"
)

// Files lists the journal files in dir that may hold records written between
// from and to, oldest first. A file covers the time from its name up to the
// name of the next file. Zero bounds are open.
func Files(dir, prefix, suffix string, from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: list %s: %w", dir, err)
	}

	suffix = "." + strings.TrimPrefix(suffix, ".")
	head := prefix + "-"
	tree := avltree.NewWith(utils.TimeComparator)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, head) || !strings.HasSuffix(name, suffix) {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, head), suffix)
		opened, err := time.ParseInLocation(TimeLayout, ts, time.UTC)
		if err != nil {
			continue
		}
		tree.Put(opened, filepath.Join(dir, name))
	}

	var out []string
	it := tree.Iterator()
	for it.Next() {
		opened := it.Key().(time.Time)
		if !to.IsZero() && opened.After(to) {
			break
		}
		if !from.IsZero() {
			// skip files superseded before from
			if next, ok := tree.Ceiling(opened.Add(time.Second)); ok && !next.Key.(time.Time).After(from) {
				continue
			}
		}
		out = append(out, it.Value().(string))
	}
	return out, nil
}
