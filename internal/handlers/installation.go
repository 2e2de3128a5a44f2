package handlers

import (
	"context"

	"insights/internal/installations"

	"github.com/google/go-github/v63/github"
)

// Installation tracks app installation lifecycle. Uninstalling soft-deletes
// the registry entry and keeps the installation's data.
func (h *Handlers) Installation(ctx context.Context, inst *installations.Installation, event *github.InstallationEvent) error {
	h.logger.InfoContext(ctx, "installation event",
		"installation_id", installationID(inst),
		"action", event.GetAction(),
	)

	if event.GetAction() != "deleted" || h.installations == nil {
		return nil
	}

	return h.installations.MarkDeleted(ctx, inst.ID)
}
