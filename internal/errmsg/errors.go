package errmsg

import "errors"

// Startup errors. Any of these aborts the process.
var (
	ErrConfig            = errors.New("config error")
	ErrStoreUnavailable  = errors.New("database unavailable")
	ErrInvalidCredential = errors.New("invalid GitHub private key")
)

// Per-request errors. These never leave the boundary that detects them.
var (
	ErrMalformedEvent      = errors.New("malformed event")
	ErrMissingInstallation = errors.New("missing installation")
	ErrEnrichment          = errors.New("enrichment failed")
)
