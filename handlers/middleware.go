package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deskos/edge/pkg/ratelimit"
)

const requestIDKey = "requestID"

// requestHeader converts fiber's fasthttp headers into an http.Header.
func requestHeader(c *fiber.Ctx) http.Header {
	header := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// requestID tags every request with a correlation identifier, surfaced in
// the response and in every log line for the request.
func (h *Handler) requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDKey, id)
		c.Set("X-Request-Id", id)
		return c.Next()
	}
}

func (h *Handler) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		h.deps.Log.WithFields(logrus.Fields{
			"requestId": c.Locals(requestIDKey),
			"method":    c.Method(),
			"path":      c.Path(),
			"status":    c.Response().StatusCode(),
			"duration":  time.Since(start).String(),
		}).Info("request handled")
		return err
	}
}

func (h *Handler) logEntry(c *fiber.Ctx) *logrus.Entry {
	return h.deps.Log.WithField("requestId", c.Locals(requestIDKey))
}

// preflight honors OPTIONS only for the configured origins; everyone else
// gets a plain 403.
func (h *Handler) preflight(c *fiber.Ctx) error {
	origin := c.Get("Origin")
	if !h.originAllowed(origin) {
		return c.Status(fiber.StatusForbidden).SendString("Forbidden")
	}
	c.Set("Access-Control-Allow-Origin", origin)
	c.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
	c.Set("Access-Control-Max-Age", "86400")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// rateLimited applies the burst policy and then the daily policy, keyed by
// endpoint name and client identifier so endpoints never share counters.
// The first violation short-circuits with a 429 before any upstream work.
func (h *Handler) rateLimited(endpoint string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := ratelimit.ClientIP(requestHeader(c))

		for _, policy := range []ratelimit.Policy{h.cfg.Burst, h.cfg.Daily} {
			key := ratelimit.MakeKey("rl", endpoint, policy.Scope, "ip", identifier)
			res := h.deps.Limiter.CheckCounterLimit(c.UserContext(), key, policy.WindowSeconds, policy.Limit)
			if res.Allowed {
				continue
			}
			h.logEntry(c).WithFields(logrus.Fields{
				"endpoint":   endpoint,
				"scope":      policy.Scope,
				"identifier": identifier,
			}).Info("rate limit exceeded")
			c.Set("Retry-After", strconv.Itoa(res.ResetSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":         "rate_limit_exceeded",
				"scope":         policy.Scope,
				"limit":         res.Limit,
				"windowSeconds": res.WindowSeconds,
				"resetSeconds":  res.ResetSeconds,
				"identifier":    identifier,
			})
		}
		return c.Next()
	}
}
