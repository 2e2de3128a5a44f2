// Package api holds the operator-facing HTTP routes.
package api

import (
	"context"

	"insights/internal/models"

	"github.com/gofiber/fiber/v3"
)

// InstallationLister reads the installation registry.
type InstallationLister interface {
	List(ctx context.Context) ([]models.InstallationEntry, error)
}

// Routes wires the meta and installation routes onto app.
func Routes(app fiber.Router, version string, installations InstallationLister) {
	app.Get("/ping", pingHandler)
	app.Get("/version", versionHandler(version))

	h := &installationsHandler{installations: installations}
	app.Get("/installations", h.list)
}
