package api

import "github.com/gofiber/fiber/v3"

// pingHandler is the liveness probe.
// @Summary Ping
// @Tags Insights Meta
// @Produce plain
// @Success 200 {string} string "PONG"
// @Router /api/v1/ping [get]
func pingHandler(c fiber.Ctx) error {
	return c.SendString("PONG")
}

// versionHandler reports the running version.
// @Summary Version
// @Tags Insights Meta
// @Produce plain
// @Success 200 {string} string "v1.2.3"
// @Router /api/v1/version [get]
func versionHandler(version string) fiber.Handler {
	body := "v" + version

	return func(c fiber.Ctx) error {
		return c.SendString(body)
	}
}
