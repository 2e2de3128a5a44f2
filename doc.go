// Package insights provides top-level metadata for the Insights API.
//
// @title Insights API
// @version dev
// @description Collects GitHub App webhook events into per-installation storage.
// @BasePath /
package insights
