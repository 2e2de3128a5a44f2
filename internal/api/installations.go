package api

import (
	"insights/internal/errmsg"
	"insights/internal/utils"

	"github.com/gofiber/fiber/v3"
)

type installationsHandler struct {
	installations InstallationLister
}

// list returns every installation the service has seen, deleted ones
// included.
// @Summary List installations
// @Tags Insights Installations
// @Produce json
// @Success 200 {array} models.InstallationEntry
// @Failure 500 {object} errmsg._InternalServerError
// @Router /api/v1/installations [get]
func (h *installationsHandler) list(c fiber.Ctx) error {
	entries, err := h.installations.List(c)
	if err != nil {
		return utils.StatusError(c, errmsg.InternalServerError(err))
	}

	return c.JSON(entries)
}
