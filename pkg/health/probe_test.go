package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	probe := NewProbe(server.URL, 3*time.Second)

	_, ok := probe.Last()
	assert.False(t, ok, "no result before the first check")

	result := probe.Check(context.Background())
	assert.True(t, result.Reachable)
	assert.Empty(t, result.Reason)
	assert.False(t, result.CheckedAt.IsZero())

	last, ok := probe.Last()
	require.True(t, ok)
	assert.True(t, last.Reachable)
}

func TestProbeErrorStatusStillReachable(t *testing.T) {
	t.Parallel()

	// A 5xx answer proves the network path is up; issuer-side failures are
	// diagnosed by real mint attempts, not the probe.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	probe := NewProbe(server.URL, 3*time.Second)
	result := probe.Check(context.Background())
	assert.True(t, result.Reachable)
}

func TestProbeConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	probe := NewProbe(url, 3*time.Second)
	result := probe.Check(context.Background())
	assert.False(t, result.Reachable)
	assert.Equal(t, "connection", result.Reason)
}

func TestProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	probe := NewProbe(server.URL, 100*time.Millisecond)

	start := time.Now()
	result := probe.Check(context.Background())
	elapsed := time.Since(start)

	assert.False(t, result.Reachable)
	assert.Equal(t, "timeout", result.Reason)
	assert.Less(t, elapsed, time.Second, "probe must not block past its timeout")
}

func TestProbeRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	probe := NewProbe(server.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		probe.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	// Let at least one check land, then cancel.
	require.Eventually(t, func() bool {
		_, ok := probe.Last()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("probe loop did not stop after context cancellation")
	}
}
