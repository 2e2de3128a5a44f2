package swagger

// @Tag.name Insights Meta
// @Tag.description Operational probes and metadata about the insights service.

// @Tag.name Insights Installations
// @Tag.description GitHub App installations known to the service.

// @Tag.name GitHub Hooks
// @Tag.description Webhook intake for the GitHub App.
