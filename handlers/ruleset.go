package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

// Ruleset dumps the loaded auto-proxy rules as YAML, unless exposure is
// disabled.
func (h *Handler) Ruleset(c *fiber.Ctx) error {
	if !h.cfg.ExposeRuleset {
		return c.Status(fiber.StatusForbidden).SendString("Ruleset Disabled")
	}
	body, err := yaml.Marshal(h.deps.Rules)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Content-Type", "application/x-yaml")
	return c.Send(body)
}
