package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/deskos/edge/pkg/proxy"
)

// Proxy handles GET /proxy?url=&mode=check|proxy|ai&year=&month=.
func (h *Handler) Proxy(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	mode := proxy.ParseMode(c.Query("mode"))
	year := c.Query("year")
	month := c.Query("month")

	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url parameter is required"})
	}
	if mode == proxy.ModeSnapshot && year == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "year parameter is required for ai mode"})
	}

	req, err := h.deps.Engine.Resolve(rawURL, mode, year, month)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	log := h.logEntry(c).WithFields(logrus.Fields{
		"target": req.Target.String(),
		"mode":   string(req.Mode),
	})

	// resolution already settled it, e.g. a check against an auto-proxied
	// domain
	if req.Synthetic != nil {
		log.Info("synthetic verdict")
		c.Set("Access-Control-Allow-Origin", "*")
		return c.JSON(req.Synthetic)
	}

	switch req.Mode {
	case proxy.ModeCheck:
		verdict := h.deps.Engine.Check(c.UserContext(), req.Target)
		log.WithField("allowed", verdict.Allowed).Info("embedding check")
		c.Set("Access-Control-Allow-Origin", "*")
		return c.JSON(verdict)

	case proxy.ModeSnapshot:
		return h.snapshot(c, req, year)

	default:
		return h.proxyContent(c, req, log)
	}
}

func (h *Handler) snapshot(c *fiber.Ctx, req *proxy.Request, year string) error {
	c.Set("Access-Control-Allow-Origin", "*")
	markup, ok, err := h.deps.Cache.Lookup(c.UserContext(), req.Target, year)
	if err != nil {
		h.logEntry(c).WithError(err).Error("snapshot cache lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "snapshot cache unavailable"})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"aiCache": false})
	}
	c.Set("X-AI-Cache", "HIT")
	c.Set("Content-Type", "text/html; charset=utf-8")
	c.Set("Content-Security-Policy", proxy.PermissiveCSP)
	return c.SendString(markup)
}

func (h *Handler) proxyContent(c *fiber.Ctx, req *proxy.Request, log *logrus.Entry) error {
	content, perr := h.deps.Engine.Proxy(c.UserContext(), req)
	if perr != nil {
		log.WithFields(logrus.Fields{
			"type":   perr.Type,
			"status": perr.Status,
		}).Warn("proxy fetch failed")
		return c.Status(perr.Status).JSON(perr)
	}

	for key, values := range content.Header {
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(content.Status)

	if content.Body != nil {
		return c.SendStream(content.Body)
	}
	log.WithField("title", content.Title).Info("proxied page")
	return c.Send(content.HTML)
}
