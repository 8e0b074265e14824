package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// AllowList is the set of patient identifiers admitted into a catalog. A nil
// AllowList admits everyone.
type AllowList map[string]struct{}

// NewAllowList builds an allow-list from the given identifiers
func NewAllowList(ids ...string) AllowList {
	a := make(AllowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

// ParseAllowList reads one identifier per line. Surrounding whitespace is
// trimmed; blank lines and lines starting with '#' are ignored.
func ParseAllowList(r io.Reader) (AllowList, error) {
	a := make(AllowList)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadAllowList reads an allow-list file from disk
func LoadAllowList(path string) (AllowList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allow-list: %w", err)
	}
	defer f.Close()

	a, err := ParseAllowList(f)
	if err != nil {
		return nil, fmt.Errorf("read allow-list %s: %w", path, err)
	}
	return a, nil
}

// Contains reports whether id is admitted. A nil list admits every id.
func (a AllowList) Contains(id string) bool {
	if a == nil {
		return true
	}
	_, ok := a[id]
	return ok
}

// Len returns the number of identifiers in the list
func (a AllowList) Len() int {
	return len(a)
}

// IDs returns the identifiers in sorted order
func (a AllowList) IDs() []string {
	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
