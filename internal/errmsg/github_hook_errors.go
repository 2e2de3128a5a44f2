package errmsg

import "net/http"

// GitHub webhook specific StatusError helpers surfaced by the intake handler.
var (
	GitHubMissingInstallation = NewStatusError(http.StatusMethodNotAllowed, "event has no installation")
	GitHubInstallationFailed  = NewStatusError(http.StatusInternalServerError, "unable to resolve installation")
)

type _GitHubMissingInstallation struct {
	StatusCode int    `json:"statusCode" example:"405"`
	Message    string `json:"message" example:"event has no installation"`
}

type _GitHubInstallationFailed struct {
	StatusCode int    `json:"statusCode" example:"500"`
	Message    string `json:"message" example:"unable to resolve installation"`
}
