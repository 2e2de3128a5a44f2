// Package githubhooks exposes the GitHub App webhook endpoint.
package githubhooks

import "github.com/gofiber/fiber/v3"

// Routes wires the GitHub webhook endpoints under /github.
func Routes(app fiber.Router, h *Hooks) {
	group := app.Group("/github")

	// POST /github/hooks receives every event the app is subscribed to.
	group.Post("/hooks", h.Receive)
}
