package session

import (
	"path"
	"strings"

	"github.com/crisidev/mash/internal/hostexpand"
)

// matchGlob matches a whole string against a pattern with '*' and '?'
// wildcards, anchored at both ends and case-sensitive. Malformed patterns
// (stray '[' and friends) fall back to a literal comparison instead of
// erroring.
func matchGlob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	if err != nil {
		return pattern == s
	}
	return ok
}

// Select resolves a selector against the registry. An empty selector (or
// bare "*") selects every enabled session. Each whitespace-separated
// pattern is host-range-expanded and then matched against display names;
// patterns that match no name are retried against each session's last
// output line. Patterns that match nothing at all are returned in missing.
func (r *Registry) Select(selector string) (matched []*Session, missing []string) {
	return r.selectWith(selector, false)
}

// SelectAll behaves like Select except that an empty selector covers every
// session, disabled ones included. Used by commands whose targets are
// disabled by definition (:enable, :purge, :reconnect) and by :list.
func (r *Registry) SelectAll(selector string) (matched []*Session, missing []string) {
	return r.selectWith(selector, true)
}

func (r *Registry) selectWith(selector string, emptyIncludesDisabled bool) ([]*Session, []string) {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == "*" {
		var all []*Session
		for _, s := range r.sessions {
			if emptyIncludesDisabled || s.Enabled() {
				all = append(all, s)
			}
		}
		return all, nil
	}

	var matched []*Session
	seen := make(map[int]bool)
	var missing []string

	for _, raw := range strings.Fields(selector) {
		found := false
		for _, pattern := range hostexpand.Expand(raw) {
			// Display names take precedence; last output lines are only
			// consulted when no name matched this pattern.
			for _, s := range r.sessions {
				if !matchGlob(pattern, s.name) {
					continue
				}
				found = true
				if !seen[s.rank] {
					seen[s.rank] = true
					matched = append(matched, s)
				}
			}
			if !found {
				for _, s := range r.sessions {
					if !matchGlob(pattern, string(s.lastLine)) {
						continue
					}
					found = true
					if !seen[s.rank] {
						seen[s.rank] = true
						matched = append(matched, s)
					}
				}
			}
		}
		if !found && len(r.sessions) > 0 {
			missing = append(missing, raw)
		}
	}
	return matched, missing
}
