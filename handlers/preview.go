package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/deskos/edge/pkg/preview"
)

// Preview handles GET /preview?url= and returns Open Graph metadata.
func (h *Handler) Preview(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url parameter is required"})
	}

	p, err := h.deps.Preview.Fetch(c.UserContext(), rawURL)
	if errors.Is(err, preview.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no metadata found"})
	}
	if err != nil {
		h.logEntry(c).WithError(err).Warn("preview fetch failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(p)
}

// OEmbed handles GET /oembed?url= for video metadata.
func (h *Handler) OEmbed(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url parameter is required"})
	}

	o, err := h.deps.Preview.OEmbed(c.UserContext(), rawURL)
	if errors.Is(err, preview.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "video not found"})
	}
	if err != nil {
		h.logEntry(c).WithError(err).Warn("oembed fetch failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(o)
}
