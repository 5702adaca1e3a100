package middleware

import "strings"

// PathMatcher matches request paths against public patterns. A pattern is
// either an exact path or "prefix/**", which matches the prefix itself and
// everything below it.
type PathMatcher struct {
	exact    map[string]struct{}
	prefixes []string
}

func NewPathMatcher(patterns []string) *PathMatcher {
	m := &PathMatcher{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			m.prefixes = append(m.prefixes, prefix)
			continue
		}
		m.exact[p] = struct{}{}
	}
	return m
}

func (m *PathMatcher) Match(path string) bool {
	if _, ok := m.exact[path]; ok {
		return true
	}
	for _, prefix := range m.prefixes {
		if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
