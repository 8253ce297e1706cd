package proxy

import "strings"

// XFOBlocks reports whether an X-Frame-Options value forbids embedding.
// Matching is substring and case-insensitive: "DENY", "SAMEORIGIN" and
// vendor-prefixed variants all block.
func XFOBlocks(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, "deny") || strings.Contains(v, "sameorigin")
}

// ExtractFrameAncestors pulls the frame-ancestors source list out of a CSP
// policy string. The second return is false when the directive is absent.
func ExtractFrameAncestors(policy string) (string, bool) {
	for _, directive := range strings.Split(policy, ";") {
		directive = strings.TrimSpace(directive)
		lower := strings.ToLower(directive)
		if !strings.HasPrefix(lower, "frame-ancestors") {
			continue
		}
		value := strings.TrimSpace(directive[len("frame-ancestors"):])
		return value, true
	}
	return "", false
}

// FrameAncestorsBlocks evaluates a frame-ancestors source list. 'none'
// blocks; any list without a literal wildcard is conservatively treated as
// blocking, even if it would admit some origins. An absent directive imposes
// no restriction.
func FrameAncestorsBlocks(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "'none'" {
		return true
	}
	return !strings.Contains(v, "*")
}

// CSPBlocks reports whether a full CSP policy forbids embedding via its
// frame-ancestors directive, along with the offending source list.
func CSPBlocks(policy string) (string, bool) {
	value, ok := ExtractFrameAncestors(policy)
	if !ok {
		return "", false
	}
	return value, FrameAncestorsBlocks(value)
}
