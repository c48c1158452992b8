package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GuardConfig bounds every store call.
type GuardConfig struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// DefaultGuardConfig returns a two-second call timeout and a breaker that
// opens after five consecutive backend failures.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Observer receives the outcome of every guarded call.
type Observer func(op string, d time.Duration, err error)

// Guard decorates a Store with a per-call timeout and a circuit breaker.
// Deadline overruns surface as ErrTimeout and backend failures or an open
// breaker as ErrUnavailable.
type Guard struct {
	next    Store
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
	observe Observer
	logger  *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithObserver reports call outcomes to fn.
func WithObserver(fn Observer) GuardOption {
	return func(g *Guard) { g.observe = fn }
}

// WithGuardLogger sets the logger used for breaker state changes.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard wraps next.
func NewGuard(next Store, cfg GuardConfig, opts ...GuardOption) *Guard {
	def := DefaultGuardConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	g := &Guard{
		next:    next,
		timeout: cfg.Timeout,
		observe: func(string, time.Duration, error) {},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "store",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("store circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isSuccessful,
	})
	return g
}

// callerError carries an error produced by an UpdateFunc through the breaker
// without counting it as a backend failure.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }
func (e callerError) Unwrap() error { return e.err }

func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var ce callerError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrFieldExists) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrReservedKey) ||
		errors.Is(err, context.Canceled)
}

func call[T any](g *Guard, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var zero T
	res, err := g.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	err = g.translate(ctx, op, err)
	g.observe(op, time.Since(start), err)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	return res.(T), nil
}

func (g *Guard) translate(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce callerError
	if errors.As(err, &ce) {
		return ce.err
	}
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrFieldExists), errors.Is(err, ErrReservedKey):
		return err
	case errors.Is(err, ErrRejected):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

func (g *Guard) AddCustomerKey(ctx context.Context, key string) error {
	_, err := call(g, ctx, "add_customer_key", func(ctx context.Context) (any, error) {
		return nil, g.next.AddCustomerKey(ctx, key)
	})
	return err
}

func (g *Guard) RemoveCustomerKey(ctx context.Context, key string) (bool, error) {
	return call(g, ctx, "remove_customer_key", func(ctx context.Context) (bool, error) {
		return g.next.RemoveCustomerKey(ctx, key)
	})
}

func (g *Guard) CustomerKeyExists(ctx context.Context, key string) (bool, error) {
	return call(g, ctx, "customer_key_exists", func(ctx context.Context) (bool, error) {
		return g.next.CustomerKeyExists(ctx, key)
	})
}

func (g *Guard) ListCustomerKeys(ctx context.Context) ([]string, error) {
	return call(g, ctx, "list_customer_keys", func(ctx context.Context) ([]string, error) {
		return g.next.ListCustomerKeys(ctx)
	})
}

func (g *Guard) Exists(ctx context.Context, key string) (bool, error) {
	return call(g, ctx, "exists", func(ctx context.Context) (bool, error) {
		return g.next.Exists(ctx, key)
	})
}

func (g *Guard) GetFields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	return call(g, ctx, "get_fields", func(ctx context.Context) (map[string]string, error) {
		return g.next.GetFields(ctx, key, fields...)
	})
}

func (g *Guard) GetAll(ctx context.Context, key string) (map[string]string, error) {
	return call(g, ctx, "get_all", func(ctx context.Context) (map[string]string, error) {
		return g.next.GetAll(ctx, key)
	})
}

func (g *Guard) Scan(ctx context.Context, pattern string) ([]string, error) {
	return call(g, ctx, "scan", func(ctx context.Context) ([]string, error) {
		return g.next.Scan(ctx, pattern)
	})
}

func (g *Guard) IndexMembers(ctx context.Context, index string) ([]string, error) {
	return call(g, ctx, "index_members", func(ctx context.Context) ([]string, error) {
		return g.next.IndexMembers(ctx, index)
	})
}

func (g *Guard) Update(ctx context.Context, key, field string, fn UpdateFunc) error {
	_, err := call(g, ctx, "update", func(ctx context.Context) (any, error) {
		return nil, g.next.Update(ctx, key, field, func(cur Current) (*Change, error) {
			ch, err := fn(cur)
			if err != nil {
				return nil, callerError{err: err}
			}
			return ch, nil
		})
	})
	return err
}

func (g *Guard) Ping(ctx context.Context) error {
	_, err := call(g, ctx, "ping", func(ctx context.Context) (any, error) {
		return nil, g.next.Ping(ctx)
	})
	return err
}

// Close closes the wrapped store without a deadline.
func (g *Guard) Close() error {
	return g.next.Close()
}
