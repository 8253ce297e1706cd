package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// memStore is an in-memory Store with a controllable clock so window expiry
// can be tested without sleeping.
type memStore struct {
	entries map[string]memEntry
	now     time.Time
	err     error
	noTTL   bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]memEntry{}, now: time.Unix(1700000000, 0)}
}

func (m *memStore) advance(d time.Duration) { m.now = m.now.Add(d) }

func (m *memStore) lookup(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok || m.now.After(e.expiresAt) {
		return memEntry{}, false
	}
	return e, true
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.entries[key] = memEntry{value: value, expiresAt: m.now.Add(ttl)}
	return nil
}

func (m *memStore) Incr(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	e, ok := m.lookup(key)
	if !ok {
		m.entries[key] = memEntry{value: "1", expiresAt: m.now.Add(time.Hour)}
		return 1, nil
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	m.entries[key] = e
	return n, nil
}

func (m *memStore) TTL(_ context.Context, key string) (time.Duration, error) {
	if m.err != nil {
		return 0, m.err
	}
	e, ok := m.lookup(key)
	if !ok || m.noTTL {
		return 0, nil
	}
	return e.expiresAt.Sub(m.now), nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.lookup(key)
	return ok, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestCheckCounterLimitFirstRequest(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))

	res := l.CheckCounterLimit(context.Background(), "k", 60, 10)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.Count)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, 60, res.ResetSeconds)
}

func TestCounterMonotonicUntilLimit(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	var last int64
	for i := 0; i < 10; i++ {
		res := l.CheckCounterLimit(ctx, "k", 60, 10)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		require.Greater(t, res.Count, last)
		last = res.Count
	}

	// 11th request: rejected without incrementing.
	res := l.CheckCounterLimit(ctx, "k", 60, 10)
	assert.False(t, res.Allowed)
	assert.EqualValues(t, 10, res.Count)
	assert.Equal(t, 0, res.Remaining)
	assert.LessOrEqual(t, res.ResetSeconds, 60)
}

func TestIdempotentRejection(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.CheckCounterLimit(ctx, "k", 60, 2)
	}
	for i := 0; i < 5; i++ {
		res := l.CheckCounterLimit(ctx, "k", 60, 2)
		require.False(t, res.Allowed)
		require.Equal(t, 0, res.Remaining)
	}

	// Stored count must still be at the limit, not limit+rejections.
	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", val)
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.CheckCounterLimit(ctx, "k", 60, 3)
	}
	res := l.CheckCounterLimit(ctx, "k", 60, 3)
	require.False(t, res.Allowed)

	store.advance(61 * time.Second)

	res = l.CheckCounterLimit(ctx, "k", 60, 3)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.Count)
}

func TestResetSecondsFallsBackToWindow(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	// Counter present but the store reports no TTL for it.
	store.entries["k"] = memEntry{value: "5", expiresAt: store.now.Add(time.Hour)}
	store.noTTL = true

	res := l.CheckCounterLimit(ctx, "k", 60, 5)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.ResetSeconds)
}

func TestFailOpenOnStoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	l := New(store, WithLogger(quietLogger()))

	res := l.CheckCounterLimit(context.Background(), "k", 60, 10)
	assert.True(t, res.Allowed, "store outage must not block traffic when failing open")
}

func TestFailClosedOnStoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	l := New(store, WithLogger(quietLogger()), WithFailOpen(false))

	res := l.CheckCounterLimit(context.Background(), "k", 60, 10)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.ResetSeconds)
}

func TestMalformedInputDoesNotTripBreaker(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	// Bad calls resolve via the failure policy without touching the breaker.
	for i := 0; i < 5; i++ {
		res := l.CheckCounterLimit(ctx, "", 60, 10)
		require.True(t, res.Allowed)
	}
	res := l.CheckCounterLimit(ctx, "k", 0, 10)
	require.True(t, res.Allowed)

	// A healthy store must still be consulted for well-formed keys.
	res = l.CheckCounterLimit(ctx, "k", 60, 10)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.Count, "counter must come from the store, not the fallback")
	res = l.CheckCounterLimit(ctx, "k", 60, 10)
	assert.EqualValues(t, 2, res.Count)
}

func TestBreakerRecovers(t *testing.T) {
	store := newMemStore()
	l := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	store.err = errors.New("down")
	for i := 0; i < 5; i++ {
		res := l.CheckCounterLimit(ctx, "k", 60, 10)
		require.True(t, res.Allowed)
	}
	store.err = nil

	// The breaker may still be open; either way the caller sees a verdict,
	// never an error.
	res := l.CheckCounterLimit(ctx, "k", 60, 10)
	assert.True(t, res.Allowed)
}
