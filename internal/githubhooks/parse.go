package githubhooks

import (
	"bytes"
	"fmt"
	"mime"

	"insights/internal/errmsg"

	"github.com/google/go-github/v63/github"
)

// Parse verifies and decodes one delivery. The signature is checked only when
// secret is set. Every failure wraps ErrMalformedEvent.
func Parse(eventName, contentType, signature string, body, secret []byte) (any, error) {
	payload, err := github.ValidatePayloadFromBody(mediaType(contentType), bytes.NewReader(body), signature, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrMalformedEvent, err)
	}

	event, err := github.ParseWebHook(eventName, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrMalformedEvent, err)
	}

	if err := checkRequired(event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errmsg.ErrMalformedEvent, eventName, err)
	}

	return event, nil
}

// mediaType strips parameters such as charset from a Content-Type header.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" {
		return "application/json"
	}
	return mt
}

// checkRequired rejects events missing fields their handlers rely on. JSON
// decoding leaves absent objects nil instead of failing.
func checkRequired(event any) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch e := event.(type) {
	case *github.IssueCommentEvent:
		require(e.Action != nil, "action")
		require(e.Comment != nil, "comment")
		require(e.Issue != nil, "issue")
		require(e.Repo != nil, "repository")
	case *github.IssuesEvent:
		require(e.Action != nil, "action")
		require(e.Issue != nil, "issue")
		require(e.Repo != nil, "repository")
	case *github.InstallationEvent:
		require(e.Action != nil, "action")
		require(e.Installation != nil, "installation")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required fields %v", missing)
	}

	return nil
}

type installationGetter interface {
	GetInstallation() *github.Installation
}

// InstallationID returns the id of the installation an event was sent for.
func InstallationID(event any) (int64, error) {
	e, ok := event.(installationGetter)
	if !ok {
		return 0, fmt.Errorf("%w: %T", errmsg.ErrMissingInstallation, event)
	}

	id := e.GetInstallation().GetID()
	if id <= 0 {
		return 0, errmsg.ErrMissingInstallation
	}

	return id, nil
}
