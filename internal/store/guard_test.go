package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/store/memstore"
	"github.com/pilotauth/pilot/internal/store/storetest"
)

// flakyStore fails Exists with err while fail is set and blocks it until the
// context is done while slow is set.
type flakyStore struct {
	*memstore.Store
	fail   atomic.Bool
	slow   atomic.Bool
	reject atomic.Bool
	calls  atomic.Int32
}

var (
	errBackend   = errors.New("connection refused")
	errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
)

func (f *flakyStore) Exists(ctx context.Context, key string) (bool, error) {
	f.calls.Add(1)
	if f.slow.Load() {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if f.fail.Load() {
		return false, errBackend
	}
	if f.reject.Load() {
		return false, fmt.Errorf("check record: %w: %w", store.ErrRejected, errWrongType)
	}
	return f.Store.Exists(ctx, key)
}

func newGuard(f *flakyStore) *store.Guard {
	return store.NewGuard(f, store.GuardConfig{
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		OpenTimeout:      time.Hour,
	})
}

func TestGuardConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewGuard(memstore.New(), store.DefaultGuardConfig())
	})
}

func TestGuardTimeout(t *testing.T) {
	f := &flakyStore{Store: memstore.New()}
	f.slow.Store(true)
	g := newGuard(f)

	_, err := g.Exists(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTimeout)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
}

func TestGuardOpensBreaker(t *testing.T) {
	f := &flakyStore{Store: memstore.New()}
	f.fail.Store(true)
	g := newGuard(f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Exists(ctx, "x")
		require.ErrorIs(t, err, store.ErrUnavailable)
		require.ErrorIs(t, err, errBackend)
	}

	f.fail.Store(false)
	_, err := g.Exists(ctx, "x")
	require.ErrorIs(t, err, store.ErrUnavailable, "breaker should be open")
	assert.Equal(t, int32(3), f.calls.Load(), "open breaker must not reach the backend")
}

func TestGuardCallerErrorsDoNotTrip(t *testing.T) {
	f := &flakyStore{Store: memstore.New()}
	g := newGuard(f)
	ctx := context.Background()
	rejected := errors.New("license not found")

	for i := 0; i < 10; i++ {
		err := g.Update(ctx, "rec", "f", func(store.Current) (*store.Change, error) {
			return nil, rejected
		})
		require.ErrorIs(t, err, rejected)
		require.NotErrorIs(t, err, store.ErrUnavailable)
	}

	ok, err := g.Exists(ctx, "rec")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardRejectedCommandsDoNotTrip(t *testing.T) {
	f := &flakyStore{Store: memstore.New()}
	f.reject.Store(true)
	g := newGuard(f)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := g.Exists(ctx, "idx:user:alice")
		require.ErrorIs(t, err, store.ErrRejected)
		require.ErrorIs(t, err, errWrongType)
		require.NotErrorIs(t, err, store.ErrUnavailable)
	}

	f.reject.Store(false)
	ok, err := g.Exists(ctx, "rec")
	require.NoError(t, err, "breaker must stay closed")
	assert.False(t, ok)
	assert.Equal(t, int32(11), f.calls.Load())
}

func TestGuardReservedKeyDoesNotTrip(t *testing.T) {
	g := newGuard(&flakyStore{Store: memstore.New()})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := g.Update(ctx, store.UserIndex("alice"), "f", func(store.Current) (*store.Change, error) {
			return &store.Change{Set: map[string]string{"f": "v"}}, nil
		})
		require.ErrorIs(t, err, store.ErrReservedKey)
	}
	_, err := g.Exists(ctx, "rec")
	require.NoError(t, err)
}

func TestGuardObserver(t *testing.T) {
	var ops []string
	g := store.NewGuard(memstore.New(), store.DefaultGuardConfig(),
		store.WithObserver(func(op string, _ time.Duration, err error) {
			ops = append(ops, op)
		}))
	ctx := context.Background()
	_, _ = g.CustomerKeyExists(ctx, "k")
	_ = g.Ping(ctx)
	assert.Equal(t, []string{"customer_key_exists", "ping"}, ops)
}

func TestLikePrefilter(t *testing.T) {
	tests := map[string]string{
		"Pilot[A-Z]*-alice": "Pilot_%-alice",
		"*-bob":             "%-bob",
		"a?c":               "a_c",
		"100%_x":            "100__x",
	}
	for glob, want := range tests {
		assert.Equal(t, want, store.LikePrefilter(glob), glob)
	}
}

func TestMatch(t *testing.T) {
	assert.True(t, store.Match("Pilot[A-Z]*-alice", "PilotQABC-alice"))
	assert.False(t, store.Match("Pilot[A-Z]*-alice", "Pilot1ABC-alice"))
	assert.False(t, store.Match("[", "["), "malformed pattern never matches")
}
