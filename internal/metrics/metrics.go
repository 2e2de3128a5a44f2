package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_webhooks_received_total",
		Help: "Webhook deliveries by outcome (ignored, malformed, no_installation, dispatched, failed).",
	}, []string{"outcome"})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_events_dispatched_total",
		Help: "Parsed events routed to a handler, labelled by event name and whether a handler was registered.",
	}, []string{"event", "handled"})

	EventLogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_eventlog_writes_total",
		Help: "Event log entries written, labelled by category and outcome.",
	}, []string{"category", "outcome"})

	EventLogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_eventlog_failures_total",
		Help: "Event log entries that could not be written.",
	}, []string{"category", "outcome"})

	RESTCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_github_rest_calls_total",
		Help: "Outbound GitHub REST calls, labelled by call name and HTTP status (none when GitHub did not answer).",
	}, []string{"call", "status"})

	InstallationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insights_installations_created_total",
		Help: "Installations provisioned by this process.",
	})
)
