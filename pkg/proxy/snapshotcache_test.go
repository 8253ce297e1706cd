package proxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalize(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return NormalizeCacheURL(u)
}

func TestNormalizeCacheURL(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b", normalize(t, "https://example.com/a/b"))
	assert.Equal(t, "https://example.com/a/b", normalize(t, "https://example.com/a/b/"))
	assert.Equal(t, "https://example.com/a/b", normalize(t, "https://example.com/a/b?q=1#frag"))
	// bare root keeps its slash
	assert.Equal(t, "https://example.com/", normalize(t, "https://example.com/"))
	assert.Equal(t, "https://example.com/", normalize(t, "https://example.com"))
}

func TestSnapshotCacheKeyIncludesYear(t *testing.T) {
	c := NewSnapshotCache(nil)
	u, _ := url.Parse("https://example.com/page/")
	assert.Equal(t, "aicache:https://example.com/page:1999", c.key(u, "1999"))
	assert.NotEqual(t, c.key(u, "1999"), c.key(u, "2005"))
}
