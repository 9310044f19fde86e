// Package broker coordinates token issuance on top of the credential minter.
//
// The broker caches the most recently minted token and reuses it until a
// configurable margin before its expiry. Concurrent callers that miss the
// cache are coalesced: at most one upstream mint is in flight at a time and
// all waiters share its result. Every Issue call reports its outcome to the
// health tracker exactly once, cache hit or not.
package broker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/cloudmint/cloudmint/pkg/errors"
	"github.com/cloudmint/cloudmint/pkg/logger"
)

// mintKey is the singleflight key; one credential per process means one
// coalescing domain.
const mintKey = "mint"

// TokenMinter performs one upstream exchange. Satisfied by *credential.Minter.
type TokenMinter interface {
	Mint(ctx context.Context) (*oauth2.Token, error)
}

// OutcomeRecorder receives the outcome of every issuance attempt.
// Satisfied by *health.Tracker.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordFailure(kind string)
}

// RequestGate admits new requests and tracks them in flight.
// Satisfied by *lifecycle.Coordinator.
type RequestGate interface {
	Begin() bool
	End()
}

// Broker issues access tokens, caching and coalescing mints.
type Broker struct {
	minter   TokenMinter
	recorder OutcomeRecorder
	gate     RequestGate
	margin   time.Duration

	group singleflight.Group

	mu     sync.Mutex
	cached *oauth2.Token

	// now is swappable for tests.
	now func() time.Time
}

// New creates a broker. margin is how long before true expiry a cached token
// stops being served and a fresh mint is attempted. gate may be nil when no
// shutdown coordination is wanted (tests).
func New(minter TokenMinter, recorder OutcomeRecorder, gate RequestGate, margin time.Duration) *Broker {
	return &Broker{
		minter:   minter,
		recorder: recorder,
		gate:     gate,
		margin:   margin,
		now:      time.Now,
	}
}

// Issue returns a valid access token, minting a fresh one when the cache is
// empty or inside the expiry margin.
//
// While the service is draining, Issue fails immediately with a
// service_unavailable error that is NOT recorded as an issuance failure.
// If the caller's context is cancelled while a mint is in flight, the mint
// completes anyway and its result still updates the cache and the tracker;
// only this caller's response is abandoned.
func (b *Broker) Issue(ctx context.Context) (*oauth2.Token, error) {
	if b.gate != nil {
		if !b.gate.Begin() {
			return nil, apperrors.NewServiceUnavailableError("server is draining, no new tokens are issued")
		}
		defer b.gate.End()
	}

	if tok := b.freshFromCache(); tok != nil {
		b.recorder.RecordSuccess()
		return tok, nil
	}

	// Cache miss or margin breach. Coalesce concurrent mints; the shared
	// call is detached from any single caller's cancellation.
	mintCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(mintKey, func() (any, error) {
		return b.mint(mintCtx)
	})

	select {
	case res := <-ch:
		return b.finish(res.Val, res.Err)
	case <-ctx.Done():
		// The caller is gone but the mint keeps going. Record this
		// call's outcome when the shared result lands.
		go func() {
			res := <-ch
			_, _ = b.finish(res.Val, res.Err)
		}()
		return nil, ctx.Err()
	}
}

// finish translates a shared mint result into this call's outcome, applying
// the stale-but-valid cache fallback, and records it.
func (b *Broker) finish(val any, err error) (*oauth2.Token, error) {
	if err == nil {
		b.recorder.RecordSuccess()
		return val.(*oauth2.Token), nil
	}

	b.recorder.RecordFailure(failureKind(err))

	// A failed mint leaves the previously minted token untouched; serve it
	// as long as it has not truly expired. The upstream failure is still
	// what gets recorded above.
	if tok := b.validFromCache(); tok != nil {
		logger.Warnf("Mint failed, serving cached token valid until %s: %v", tok.Expiry.Format(time.RFC3339), err)
		return tok, nil
	}
	return nil, err
}

// mint performs the single upstream call and replaces the cache entry only
// on success.
func (b *Broker) mint(ctx context.Context) (*oauth2.Token, error) {
	tok, err := b.minter.Mint(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cached = tok
	b.mu.Unlock()

	logger.Debugf("Minted fresh access token, expires at %s", tok.Expiry.Format(time.RFC3339))
	return tok, nil
}

// freshFromCache returns the cached token while it is outside the expiry
// margin, nil otherwise.
func (b *Broker) freshFromCache() *oauth2.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil && b.now().Before(b.cached.Expiry.Add(-b.margin)) {
		return b.cached
	}
	return nil
}

// validFromCache returns the cached token while it has not truly expired,
// nil otherwise. Used only as the fallback after a failed mint.
func (b *Broker) validFromCache() *oauth2.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil && b.now().Before(b.cached.Expiry) {
		return b.cached
	}
	return nil
}

// failureKind maps an error to the health tracker's failure taxonomy.
func failureKind(err error) string {
	if kind := apperrors.TypeOf(err); kind != "" {
		return kind
	}
	return "internal"
}

// Token implements oauth2.TokenSource so the broker can be plugged into any
// client stack that consumes one.
func (b *Broker) Token() (*oauth2.Token, error) {
	return b.Issue(context.Background())
}

var _ oauth2.TokenSource = (*Broker)(nil)
