package githubhooks

import (
	"context"
	"log/slog"
	"strings"

	"insights/internal/errmsg"
	"insights/internal/eventlog"
	"insights/internal/installations"
	"insights/internal/metrics"
	"insights/internal/utils"

	"github.com/gofiber/fiber/v3"
)

// GitHub delivery headers.
const (
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
	signatureHeader = "X-Hub-Signature-256"
)

// InstallationResolver returns the installation an event belongs to,
// provisioning it if needed.
type InstallationResolver interface {
	Get(ctx context.Context, id int64) (*installations.Installation, error)
}

// Dispatcher routes a parsed event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event any, name string, inst *installations.Installation) error
}

// Hooks is the webhook intake: it records every delivery in the event log,
// resolves the installation and hands the event to the dispatcher.
type Hooks struct {
	secret        []byte
	events        *eventlog.Log
	installations InstallationResolver
	dispatcher    Dispatcher
	logger        *slog.Logger
}

func New(secret string, events *eventlog.Log, resolver InstallationResolver, dispatcher Dispatcher, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hooks{
		secret:        []byte(strings.TrimSpace(secret)),
		events:        events,
		installations: resolver,
		dispatcher:    dispatcher,
		logger:        logger.With("component", "githubhooks"),
	}
}

// Receive ingests one GitHub webhook delivery. Malformed deliveries are
// acknowledged so GitHub does not retry them; they are kept in the event log.
// @Summary Receive GitHub webhook
// @Tags GitHub Hooks
// @Accept json
// @Param X-GitHub-Event header string true "GitHub event name"
// @Param X-Hub-Signature-256 header string false "HMAC signature of the body"
// @Success 200
// @Failure 405 {object} errmsg._GitHubMissingInstallation
// @Failure 500 {object} errmsg._GitHubInstallationFailed
// @Router /api/v1/github/hooks [post]
func (h *Hooks) Receive(c fiber.Ctx) error {
	ctx := context.Context(c)

	// Header values alias the request buffer; name outlives the request as a
	// metric label.
	name := strings.Clone(strings.TrimSpace(c.Get(eventHeader)))
	if name == "" {
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return c.SendStatus(fiber.StatusOK)
	}

	body := c.Body()
	headers := c.GetReqHeaders()
	delivery := strings.Clone(c.Get(deliveryHeader))

	h.logger.DebugContext(ctx, "received webhook", "event", name, "delivery", delivery)

	event, err := Parse(name, c.Get(fiber.HeaderContentType), c.Get(signatureHeader), body, h.secret)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("malformed").Inc()
		h.logger.WarnContext(ctx, "rejected webhook",
			"event", name,
			"delivery", delivery,
			"error", err,
		)
		_ = h.events.WebhookError(ctx, name, headers, body, err.Error())
		return c.SendStatus(fiber.StatusOK)
	}

	_ = h.events.Webhook(ctx, name, headers, body)

	id, err := InstallationID(event)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("no_installation").Inc()
		h.logger.WarnContext(ctx, "webhook without installation", "event", name, "delivery", delivery)
		return utils.StatusError(c, errmsg.GitHubMissingInstallation)
	}

	inst, err := h.installations.Get(ctx, id)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		h.logger.ErrorContext(ctx, "unable to resolve installation",
			"installation_id", id,
			"event", name,
			"error", err,
		)
		return utils.StatusError(c, errmsg.GitHubInstallationFailed)
	}

	if err := h.dispatcher.Dispatch(ctx, event, name, inst); err != nil {
		metrics.WebhooksReceived.WithLabelValues("failed").Inc()
		h.logger.ErrorContext(ctx, "webhook handler failed",
			"installation_id", id,
			"event", name,
			"delivery", delivery,
			"error", err,
		)
		return c.SendStatus(fiber.StatusOK)
	}

	metrics.WebhooksReceived.WithLabelValues("dispatched").Inc()

	return c.SendStatus(fiber.StatusOK)
}
