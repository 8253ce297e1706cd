package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// Health reports liveness and store reachability. A down store still
// answers 200: the service degrades to fail-open rate limiting rather than
// going down with it.
func (h *Handler) Health(c *fiber.Ctx) error {
	storeOK := true
	if h.deps.Pinger != nil {
		if err := h.deps.Pinger.Ping(c.UserContext()); err != nil {
			storeOK = false
		}
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"store":  storeOK,
	})
}
