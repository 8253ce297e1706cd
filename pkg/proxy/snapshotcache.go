package proxy

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache reads pre-rendered page snapshots from a Redis list. An
// external renderer owns the write side; this component only ever reads
// element 0.
type SnapshotCache struct {
	cli     redis.Cmdable
	prefix  string
	timeout time.Duration
}

func NewSnapshotCache(cli redis.Cmdable) *SnapshotCache {
	return &SnapshotCache{
		cli:     cli,
		prefix:  "aicache",
		timeout: 500 * time.Millisecond,
	}
}

// NormalizeCacheURL reduces a URL to its cache identity: origin plus path,
// trailing slash trimmed (except for the bare root), query and fragment
// dropped. Two URLs differing only in those parts share one snapshot.
func NormalizeCacheURL(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return u.Scheme + "://" + u.Host + path
}

func (c *SnapshotCache) key(u *url.URL, year string) string {
	return c.prefix + ":" + NormalizeCacheURL(u) + ":" + year
}

// Lookup returns the cached markup for (url, year), reporting a miss as
// ok=false rather than an error.
func (c *SnapshotCache) Lookup(ctx context.Context, u *url.URL, year string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vals, err := c.cli.LRange(ctx, c.key(u, year), 0, 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(vals) == 0 || vals[0] == "" {
		return "", false, nil
	}
	return vals[0], true, nil
}
