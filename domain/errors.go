package domain

import (
	"errors"
	"net/http"
)

// Protocol error taxonomy. Handlers wrap these with fmt.Errorf("...: %w", err)
// and the bridge maps them to HTTP status codes via StatusCode.
var (
	// Authentication layer
	ErrSignatureInvalid    = errors.New("signature missing or invalid")
	ErrSignerUnresolved    = errors.New("signer key could not be resolved")
	ErrActorSignerMismatch = errors.New("activity actor does not match request signer")

	// Setup/consistency layer
	ErrOwnerMisconfigured = errors.New("owner is not properly set up")

	// Content layer
	ErrActivityObjectMismatch = errors.New("activity object and owner do not match")
	ErrForeignActivity        = errors.New("activity does not belong to this owner")
	ErrActivityMismatch       = errors.New("activity does not match the stored pending follow")
	ErrUnsupportedActivity    = errors.New("unsupported activity type")
	ErrActivityInvalid        = errors.New("invalid activity")

	// Actor resolution
	ErrActorUnreachable = errors.New("actor unreachable")
	ErrActorMalformed   = errors.New("actor document malformed")

	// External store I/O
	ErrStore = errors.New("store operation failed")
)

// StatusCode maps a protocol error to the HTTP status the caller should
// respond with. Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, ErrSignerUnresolved),
		errors.Is(err, ErrActorSignerMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrOwnerMisconfigured),
		errors.Is(err, ErrActivityObjectMismatch),
		errors.Is(err, ErrForeignActivity),
		errors.Is(err, ErrActivityMismatch),
		errors.Is(err, ErrActivityInvalid),
		errors.Is(err, ErrActorMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedActivity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrActorUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, ErrStore):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
