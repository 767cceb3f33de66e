// HTTP-layer error codes shared by all endpoints. Codes are lowercase
// snake_case and stable; clients branch on them programmatically while the
// accompanying message stays human-readable.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeConfigurationMissing = "configuration_missing"
	ErrCodeUpstreamFailed       = "upstream_failed"
	ErrCodeBusy                 = "busy"
	ErrCodeMethodNotAllowed     = "method_not_allowed"
)
