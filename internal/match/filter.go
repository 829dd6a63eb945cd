package match

import "strings"

// pattern is one compiled '*' glob split into literal segments.
type pattern struct {
	segments []string
	prefix   bool
	suffix   bool
	any      bool
}

// NameFilter matches process or collector names against '*' globs.
// Params: compiled pattern list; zero value matches nothing.
// Returns: reusable filter safe for concurrent reads.
type NameFilter struct {
	patterns []pattern
}

// NewNameFilter compiles glob patterns, skipping blank entries.
// Params: globs with optional '*' wildcards; matching is case-insensitive.
// Returns: compiled filter.
func NewNameFilter(globs []string) NameFilter {
	compiled := make([]pattern, 0, len(globs))
	for _, raw := range globs {
		glob := strings.ToLower(strings.TrimSpace(raw))
		if glob == "" {
			continue
		}
		if strings.Trim(glob, "*") == "" {
			compiled = append(compiled, pattern{any: true})
			continue
		}
		compiled = append(compiled, pattern{
			segments: strings.Split(glob, "*"),
			prefix:   !strings.HasPrefix(glob, "*"),
			suffix:   !strings.HasSuffix(glob, "*"),
		})
	}
	return NameFilter{patterns: compiled}
}

// Empty reports whether the filter has no patterns.
func (f NameFilter) Empty() bool {
	return len(f.patterns) == 0
}

// Match reports whether name matches any compiled glob.
// Params: name compared case-insensitively.
// Returns: true on first matching pattern.
func (f NameFilter) Match(name string) bool {
	value := strings.ToLower(name)
	for _, p := range f.patterns {
		if p.match(value) {
			return true
		}
	}
	return false
}

func (p pattern) match(value string) bool {
	if p.any {
		return true
	}

	first, last := 0, len(p.segments)-1
	if p.prefix {
		if !strings.HasPrefix(value, p.segments[0]) {
			return false
		}
		value = value[len(p.segments[0]):]
		first = 1
	}
	if p.suffix {
		tail := p.segments[last]
		if first > last || !strings.HasSuffix(value, tail) {
			return first > last && value == ""
		}
		value = value[:len(value)-len(tail)]
		last--
	}

	for idx := first; idx <= last; idx++ {
		segment := p.segments[idx]
		if segment == "" {
			continue
		}
		at := strings.Index(value, segment)
		if at < 0 {
			return false
		}
		value = value[at+len(segment):]
	}
	return true
}
