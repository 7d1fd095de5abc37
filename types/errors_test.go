package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "Nil", err: nil, want: http.StatusOK},
		{name: "Validation", err: fmt.Errorf("%w: user is required", ErrValidation), want: http.StatusUnprocessableEntity},
		{name: "Not Found", err: fmt.Errorf("locate: %w", ErrNotFound), want: http.StatusNotFound},
		{name: "Integrity", err: ErrIntegrity, want: http.StatusInternalServerError},
		{name: "Chain Integrity", err: fmt.Errorf("entry 2: %w", ErrChainIntegrity), want: http.StatusInternalServerError},
		{name: "Concurrent Modification", err: ErrConcurrentModification, want: http.StatusConflict},
		{name: "Precondition", err: ErrPreconditionFailed, want: http.StatusConflict},
		{name: "Store Unavailable", err: fmt.Errorf("put: %w", ErrStoreUnavailable), want: http.StatusServiceUnavailable},
		{name: "Deadline", err: context.DeadlineExceeded, want: http.StatusServiceUnavailable},
		{name: "Unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsSecurityIncident(t *testing.T) {
	if !IsSecurityIncident(fmt.Errorf("x: %w", ErrIntegrity)) || !IsSecurityIncident(ErrChainIntegrity) {
		t.Error("integrity errors not flagged")
	}
	if IsSecurityIncident(ErrNotFound) || IsSecurityIncident(nil) {
		t.Error("non-integrity error flagged")
	}
}
