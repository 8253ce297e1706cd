package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Policy names one counting window. Callers usually compose a burst policy
// (short window, low limit) with a daily policy (long window, higher limit),
// checking burst first.
type Policy struct {
	Scope         string `json:"scope"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"windowSeconds"`
}

// Result is the outcome of one counter check, carrying enough metadata for
// the caller to build a 429 with a Retry-After hint.
type Result struct {
	Allowed       bool  `json:"allowed"`
	Count         int64 `json:"count"`
	Limit         int   `json:"limit"`
	Remaining     int   `json:"remaining"`
	WindowSeconds int   `json:"windowSeconds"`
	ResetSeconds  int   `json:"resetSeconds"`
}

// Limiter counts requests per key in fixed windows backed by a Store. Store
// failures are routed through a circuit breaker and resolved by the
// configured failure policy instead of surfacing to the caller: a limiter
// outage must never take down the endpoint it guards.
type Limiter struct {
	store    Store
	breaker  *gobreaker.CircuitBreaker
	failOpen bool
	log      *logrus.Logger
}

type Option func(*Limiter)

// WithFailOpen controls what a store failure means: true (the default)
// allows the request, false rejects it.
func WithFailOpen(open bool) Option {
	return func(l *Limiter) { l.failOpen = open }
}

func WithLogger(log *logrus.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		failOpen: true,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return l
}

// CheckCounterLimit decides whether the request identified by key is allowed
// under a (windowSeconds, limit) policy. The stored count never exceeds
// limit: once the limit is reached further checks are rejected without
// incrementing. It never returns an error; infra failures are absorbed by
// the failure policy.
func (l *Limiter) CheckCounterLimit(ctx context.Context, key string, windowSeconds, limit int) Result {
	// caller mistakes must not count against the breaker; only store
	// failures may trip it
	if err := validate(key, windowSeconds, limit); err != nil {
		l.log.WithError(err).WithField("key", key).Warn("rate limit check misconfigured")
		return l.fallback(windowSeconds, limit)
	}

	out, err := l.breaker.Execute(func() (interface{}, error) {
		return l.check(ctx, key, windowSeconds, limit)
	})
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"key":      key,
			"failOpen": l.failOpen,
		}).Warn("rate limit store unavailable")
		return l.fallback(windowSeconds, limit)
	}
	return out.(Result)
}

// fallback is the verdict handed out when the counter cannot be consulted:
// the failure policy decides, and the full window is reported as the reset.
func (l *Limiter) fallback(windowSeconds, limit int) Result {
	return Result{
		Allowed:       l.failOpen,
		Limit:         limit,
		Remaining:     remaining(limit, 0),
		WindowSeconds: windowSeconds,
		ResetSeconds:  windowSeconds,
	}
}

func validate(key string, windowSeconds, limit int) error {
	if key == "" {
		return fmt.Errorf("ratelimit: empty key")
	}
	if windowSeconds <= 0 || limit <= 0 {
		return fmt.Errorf("ratelimit: invalid policy window=%d limit=%d", windowSeconds, limit)
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, windowSeconds, limit int) (Result, error) {
	res := Result{Limit: limit, WindowSeconds: windowSeconds}

	val, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}

	// First request in the window: create the counter with the window as
	// its TTL. The TTL is set once and never refreshed on increment.
	if !ok {
		if err := l.store.Set(ctx, key, "1", time.Duration(windowSeconds)*time.Second); err != nil {
			return Result{}, err
		}
		res.Allowed = true
		res.Count = 1
		res.Remaining = remaining(limit, 1)
		res.ResetSeconds = windowSeconds
		return res, nil
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: malformed counter %q for key %s: %w", val, key, err)
	}

	res.ResetSeconds = l.resetSeconds(ctx, key, windowSeconds)

	if count >= int64(limit) {
		res.Count = count
		res.Remaining = 0
		return res, nil
	}

	updated, err := l.store.Incr(ctx, key)
	if err != nil {
		return Result{}, err
	}
	res.Allowed = true
	res.Count = updated
	res.Remaining = remaining(limit, updated)
	return res, nil
}

// resetSeconds reads the counter's remaining TTL. A missing TTL is treated
// as "the whole window just restarted" rather than an error.
func (l *Limiter) resetSeconds(ctx context.Context, key string, windowSeconds int) int {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return windowSeconds
	}
	secs := int(ttl.Round(time.Second) / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return secs
}

func remaining(limit int, count int64) int {
	r := limit - int(count)
	if r < 0 {
		return 0
	}
	return r
}
