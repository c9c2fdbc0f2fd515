// Package safety provides guild filtering and an audit trail for changes to
// the forwarding mappings.
package safety

import "path"

// Filter decides whether a resource (a guild ID) may take part in
// forwarding. Entries may be exact values or path.Match glob patterns.
// A denylist match always wins; an empty allowlist allows everything else.
type Filter struct {
	allow []string
	deny  []string
}

// NewFilter returns a Filter over the given lists. Nil lists are allowed.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allow: append([]string(nil), allowlist...),
		deny:  append([]string(nil), denylist...),
	}
}

// IsAllowed reports whether resource passes the filter. A nil Filter allows
// everything.
func (f *Filter) IsAllowed(resource string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.deny, resource) {
		return false
	}
	if len(f.allow) == 0 {
		return true
	}
	return matchAny(f.allow, resource)
}

func matchAny(patterns []string, resource string) bool {
	for _, p := range patterns {
		if p == resource {
			return true
		}
		if ok, err := path.Match(p, resource); err == nil && ok {
			return true
		}
	}
	return false
}
