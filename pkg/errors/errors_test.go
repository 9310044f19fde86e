package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewUpstreamUnreachableError("token endpoint unreachable", cause)

	assert.Equal(t, "upstream_unreachable: token endpoint unreachable: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))

	noCause := NewServiceUnavailableError("server is draining")
	assert.Equal(t, "service_unavailable: server is draining", noCause.Error())
	assert.Nil(t, errors.Unwrap(noCause))
}

func TestTypePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"config invalid", NewConfigInvalidError("missing private key", nil), IsConfigInvalid},
		{"credential invalid", NewCredentialInvalidError("bad PEM block", nil), IsCredentialInvalid},
		{"upstream unreachable", NewUpstreamUnreachableError("timeout", nil), IsUpstreamUnreachable},
		{"upstream rejected", NewUpstreamRejectedError("invalid_grant", nil), IsUpstreamRejected},
		{"upstream malformed", NewUpstreamMalformedError("no access_token", nil), IsUpstreamMalformed},
		{"service unavailable", NewServiceUnavailableError("draining"), IsServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.predicate(tt.err))
			assert.False(t, tt.predicate(errors.New("plain error")))
		})
	}
}

func TestTypeOfWrappedError(t *testing.T) {
	t.Parallel()

	inner := NewUpstreamRejectedError("permission denied", nil)
	wrapped := fmt.Errorf("minting failed: %w", inner)

	require.Equal(t, ErrUpstreamRejected, TypeOf(wrapped))
	assert.True(t, IsUpstreamRejected(wrapped))
	assert.Empty(t, TypeOf(errors.New("unrelated")))
}
