package source

import "strings"

// NameFilter matches account or community names. Upstream names are case
// insensitive, so matching is too.
type NameFilter struct {
	names map[string]struct{}
}

// NewNameFilter creates a filter over names. Blank entries are ignored.
func NewNameFilter(names []string) *NameFilter {
	f := &NameFilter{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		f.names[n] = struct{}{}
	}
	return f
}

// Matches returns true if name is in the filter. A nil filter matches nothing.
func (f *NameFilter) Matches(name string) bool {
	if f == nil || name == "" {
		return false
	}
	_, ok := f.names[strings.ToLower(name)]
	return ok
}

// Len returns the number of distinct names.
func (f *NameFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}
