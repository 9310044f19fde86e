package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	apperrors "github.com/cloudmint/cloudmint/pkg/errors"
)

// fakeMinter returns canned results and counts upstream calls.
type fakeMinter struct {
	calls atomic.Int64
	mint  func(ctx context.Context) (*oauth2.Token, error)
}

func (f *fakeMinter) Mint(ctx context.Context) (*oauth2.Token, error) {
	f.calls.Add(1)
	return f.mint(ctx)
}

// fakeRecorder counts recorded outcomes.
type fakeRecorder struct {
	mu        sync.Mutex
	successes int
	failures  []string
}

func (f *fakeRecorder) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeRecorder) RecordFailure(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, kind)
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.successes, len(f.failures)
}

// fakeGate mimics the lifecycle coordinator's request gate.
type fakeGate struct {
	accepting atomic.Bool
	inflight  atomic.Int64
}

func (g *fakeGate) Begin() bool {
	if !g.accepting.Load() {
		return false
	}
	g.inflight.Add(1)
	return true
}

func (g *fakeGate) End() {
	g.inflight.Add(-1)
}

func token(value string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{AccessToken: value, TokenType: "Bearer", Expiry: expiry}
}

func TestIssueMintsOnEmptyCache(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return token("fresh", time.Now().Add(time.Hour)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)

	tok, err := b.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int64(1), minter.calls.Load())

	successes, failures := recorder.counts()
	assert.Equal(t, 1, successes)
	assert.Zero(t, failures)
}

func TestCachedTokenOutsideMarginIsReused(t *testing.T) {
	t.Parallel()

	// Token expiring 10 minutes out with a 5 minute margin: reused with no
	// new mint, and the cache hit still counts as a success.
	now := time.Now()
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return token("first", now.Add(10*time.Minute)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)
	b.now = func() time.Time { return now }

	_, err := b.Issue(context.Background())
	require.NoError(t, err)

	tok, err := b.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)
	assert.Equal(t, int64(1), minter.calls.Load(), "cache hit must not mint")

	successes, _ := recorder.counts()
	assert.Equal(t, 2, successes, "every Issue call records exactly one outcome")
}

func TestMarginBreachTriggersExactlyOneMint(t *testing.T) {
	t.Parallel()

	now := time.Now()
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return token("refreshed", now.Add(time.Hour)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)
	b.now = func() time.Time { return now }

	// Seed the cache with a token already inside the margin.
	b.cached = token("stale", now.Add(4*time.Minute))

	tok, err := b.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
	assert.Equal(t, int64(1), minter.calls.Load())
}

func TestConcurrentCacheMissesCoalesce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		<-release
		return token("shared", time.Now().Add(time.Hour)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*oauth2.Token, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := b.Issue(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// Give all callers time to pile onto the in-flight mint.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), minter.calls.Load(), "concurrent misses must share one upstream call")
	for _, tok := range results {
		require.NotNil(t, tok)
		assert.Equal(t, "shared", tok.AccessToken)
	}

	successes, _ := recorder.counts()
	assert.Equal(t, callers, successes, "each caller records its own outcome")
}

func TestFailedMintServesStaleButValidToken(t *testing.T) {
	t.Parallel()

	now := time.Now()
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return nil, apperrors.NewUpstreamUnreachableError("issuer down", nil)
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)
	b.now = func() time.Time { return now }

	// Inside the margin but not truly expired.
	b.cached = token("still-valid", now.Add(2*time.Minute))

	tok, err := b.Issue(context.Background())
	require.NoError(t, err, "stale-but-valid cached token must still be served")
	assert.Equal(t, "still-valid", tok.AccessToken)

	successes, failures := recorder.counts()
	assert.Zero(t, successes)
	assert.Equal(t, 1, failures, "the upstream failure is what gets recorded")
	assert.Equal(t, apperrors.ErrUpstreamUnreachable, recorder.failures[0])
}

func TestFailedMintWithoutCacheFails(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return nil, apperrors.NewUpstreamRejectedError("invalid_grant", nil)
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)

	_, err := b.Issue(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamRejected(err))

	_, failures := recorder.counts()
	assert.Equal(t, 1, failures)
}

func TestFailedMintDoesNotReplaceCache(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fail := atomic.Bool{}
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		if fail.Load() {
			return nil, apperrors.NewUpstreamUnreachableError("issuer down", nil)
		}
		return token("good", now.Add(10*time.Minute)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)
	b.now = func() time.Time { return now }

	_, err := b.Issue(context.Background())
	require.NoError(t, err)

	// Move inside the margin so the next call attempts a mint, and fail it.
	now = now.Add(6 * time.Minute)
	fail.Store(true)

	tok, err := b.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", tok.AccessToken)

	// The cached entry survived the failed mint untouched.
	assert.Equal(t, "good", b.cached.AccessToken)
}

func TestDrainingRejectsWithoutRecording(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return token("never", time.Now().Add(time.Hour)), nil
	}}
	recorder := &fakeRecorder{}
	gate := &fakeGate{}
	gate.accepting.Store(false)
	b := New(minter, recorder, gate, 5*time.Minute)

	_, err := b.Issue(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsServiceUnavailable(err))
	assert.Zero(t, minter.calls.Load())

	successes, failures := recorder.counts()
	assert.Zero(t, successes, "draining rejections are not issuance outcomes")
	assert.Zero(t, failures, "draining rejections must not corrupt failure counters")
}

func TestCancelledCallerStillUpdatesCacheAndTracker(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		<-release
		return token("late", time.Now().Add(time.Hour)), nil
	}}
	recorder := &fakeRecorder{}
	b := New(minter, recorder, nil, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Issue(ctx)
		errCh <- err
	}()

	// Abandon the caller while the mint is in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// Let the mint finish; its result must still land in cache and tracker.
	close(release)
	require.Eventually(t, func() bool {
		successes, _ := recorder.counts()
		return successes == 1
	}, time.Second, 5*time.Millisecond)

	tok, err := b.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", tok.AccessToken)
	assert.Equal(t, int64(1), minter.calls.Load(), "the completed mint seeds the cache for later calls")
}

func TestBrokerIsATokenSource(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{mint: func(context.Context) (*oauth2.Token, error) {
		return token("via-source", time.Now().Add(time.Hour)), nil
	}}
	b := New(minter, &fakeRecorder{}, nil, 5*time.Minute)

	var src oauth2.TokenSource = b
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "via-source", tok.AccessToken)
}
