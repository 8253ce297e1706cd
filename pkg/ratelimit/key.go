package ratelimit

import (
	"net/url"
	"strings"
)

// keySeparator joins key parts. Parts are escaped so a part can never
// contain the separator and collide with a differently-structured key.
const keySeparator = ":"

// MakeKey builds a deterministic store key from its parts. Empty parts are
// dropped; remaining parts are query-escaped and joined with ":". Keys double
// as the store's primary index, so two logically identical identifiers must
// always serialize to the same string.
func MakeKey(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		escaped = append(escaped, url.QueryEscape(p))
	}
	return strings.Join(escaped, keySeparator)
}
