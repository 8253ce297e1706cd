package handlers

import (
	"context"
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/deskos/edge/pkg/preview"
	"github.com/deskos/edge/pkg/proxy"
	"github.com/deskos/edge/pkg/ratelimit"
	"github.com/deskos/edge/pkg/ruleset"
)

// Pinger is the health-check slice of the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotLookup is the read-only slice of the snapshot cache.
type SnapshotLookup interface {
	Lookup(ctx context.Context, u *url.URL, year string) (string, bool, error)
}

// Config is the HTTP-surface configuration: who may call us cross-origin,
// whether the ruleset is exposed, and the per-endpoint policy pair.
type Config struct {
	AllowedOrigins []string
	ExposeRuleset  bool
	Burst          ratelimit.Policy
	Daily          ratelimit.Policy
}

// Deps carries the explicitly constructed collaborators. Nothing here is a
// package-level singleton; lifecycle is owned by the caller.
type Deps struct {
	Limiter *ratelimit.Limiter
	Engine  *proxy.Engine
	Cache   SnapshotLookup
	Preview *preview.Client
	Rules   ruleset.Ruleset
	Pinger  Pinger
	Log     *logrus.Logger
}

type Handler struct {
	cfg  Config
	deps Deps
}

// NewApp wires the fiber application: request correlation, CORS preflight,
// rate limiting, and the proxy/preview/ruleset/health routes.
func NewApp(cfg Config, deps Deps) *fiber.App {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	h := &Handler{cfg: cfg, deps: deps}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})

	app.Use(h.requestID())
	app.Use(h.requestLogger())

	app.Options("/*", h.preflight)

	app.Get("/healthz", h.Health)
	app.Get("/ruleset", h.Ruleset)
	app.Get("/proxy", h.rateLimited("proxy"), h.Proxy)
	app.Get("/preview", h.rateLimited("preview"), h.Preview)
	app.Get("/oembed", h.rateLimited("oembed"), h.OEmbed)

	// everything else on known routes is an unsupported method
	app.All("/proxy", methodNotAllowed)
	app.All("/preview", methodNotAllowed)
	app.All("/oembed", methodNotAllowed)

	return app
}

func methodNotAllowed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "method not allowed",
	})
}

// errorHandler normalizes anything that escapes a handler into a stable
// JSON shape; stack traces never reach the caller.
func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	h.deps.Log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
