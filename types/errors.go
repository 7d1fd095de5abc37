package types

import (
	"context"
	"errors"
	"net/http"
)

// Error taxonomy shared by every vault component. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrValidation is returned for missing or malformed caller input. Not retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown evidence id or storage key
	ErrNotFound = errors.New("evidence not found")

	// ErrIntegrity is returned when an auth tag or content digest does not verify.
	// The artifact must be treated as compromised.
	ErrIntegrity = errors.New("evidence integrity check failed")

	// ErrChainIntegrity is returned when a custody signature or chain invariant fails
	ErrChainIntegrity = errors.New("custody chain integrity check failed")

	// ErrStoreUnavailable is returned for transient backend or network failures
	ErrStoreUnavailable = errors.New("object store unavailable")

	// ErrPreconditionFailed is returned by an object store when a conditional write loses
	ErrPreconditionFailed = errors.New("object store precondition failed")

	// ErrConcurrentModification is returned when custody appends keep losing races
	ErrConcurrentModification = errors.New("concurrent custody modification")
)

// HTTPStatus maps an error from the vault to the status code a REST layer should return
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		// ErrIntegrity, ErrChainIntegrity and unknown errors
		return http.StatusInternalServerError
	}
}

// IsSecurityIncident reports whether err indicates tampering or corruption
func IsSecurityIncident(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrChainIntegrity)
}
