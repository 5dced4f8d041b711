package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Error(t *testing.T) {
	err := NewRateLimitError("lex-70b", "too many requests")
	assert.Contains(t, err.Error(), TypeRateLimit)
	assert.Contains(t, err.Error(), "lex-70b")
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		retryable bool
	}{
		{http.StatusUnauthorized, TypeAuthentication, false},
		{http.StatusForbidden, TypePermission, false},
		{http.StatusTooManyRequests, TypeRateLimit, true},
		{http.StatusRequestTimeout, TypeTimeout, true},
		{http.StatusInternalServerError, TypeServiceUnavailable, true},
		{http.StatusBadGateway, TypeServiceUnavailable, true},
		{http.StatusBadRequest, TypeInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			err := FromStatusCode(tt.status, "m", "msg")
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatusCode())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewServiceUnavailableError("m", "down")))
	assert.False(t, IsRetryable(NewAuthenticationError("m", "bad key")))
	assert.False(t, IsRetryable(NewPermissionError("m", "no access")))

	// Wrapped errors are unwrapped.
	wrapped := fmt.Errorf("calling provider: %w", NewAuthenticationError("m", "bad key"))
	assert.False(t, IsRetryable(wrapped))

	// Unknown errors default to retryable.
	assert.True(t, IsRetryable(fmt.Errorf("connection reset")))
}
