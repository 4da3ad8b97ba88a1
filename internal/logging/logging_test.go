package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req_abc123")
	assert.Equal(t, "req_abc123", RequestID(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()))
}

func TestWithLoggerRoundTrip(t *testing.T) {
	base := New("debug", "text")
	ctx := WithLogger(context.Background(), base)
	assert.Same(t, base, FromContext(ctx))
}

func TestNewAcceptsAnyLevelString(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARN", "bogus"} {
		assert.NotNil(t, New(level, "json"), "level %q", level)
	}
}

func TestLAnnotatesRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_1")
	require.NotNil(t, L(ctx))
	assert.NotSame(t, FromContext(ctx), L(ctx), "request ID produces a derived logger")
}
