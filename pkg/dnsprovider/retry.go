package dnsprovider

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithAttempts sets the total number of attempts per call.
// Default: 3
func WithAttempts(n int) RetryOption {
	return func(r *Retrying) {
		r.attempts = max(n, 1)
	}
}

// WithAttemptTimeout bounds each attempt.
// Default: 10 seconds
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(r *Retrying) {
		r.timeout = d
	}
}

// WithBackoff sets the base wait between attempts; attempt i waits i*d.
// Default: 500ms
func WithBackoff(d time.Duration) RetryOption {
	return func(r *Retrying) {
		r.backoff = d
	}
}

// WithRetryLogger sets the logger used to report retried failures.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) {
		r.logger = l
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(op string, err error, d time.Duration)) RetryOption {
	return func(r *Retrying) {
		r.observe = fn
	}
}

// Retrying decorates a Client with bounded retries on temporary failures.
// 4xx responses other than 429 are returned immediately.
type Retrying struct {
	next     Client
	attempts int
	timeout  time.Duration
	backoff  time.Duration
	logger   *slog.Logger
	observe  func(op string, err error, d time.Duration)
}

// NewRetrying wraps next.
func NewRetrying(next Client, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: 3,
		timeout:  10 * time.Second,
		backoff:  500 * time.Millisecond,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := range r.attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(time.Duration(i) * r.backoff):
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		start := time.Now()
		err := fn(attemptCtx)
		cancel()
		if r.observe != nil {
			r.observe(op, err, time.Since(start))
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTemporary(err) {
			return err
		}
		r.logger.WarnContext(ctx, "dns provider call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.Any("error", err),
		)
	}
	return lastErr
}

func (r *Retrying) CreateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	var out Record
	err := r.run(ctx, "create record", func(ctx context.Context) error {
		var err error
		out, err = r.next.CreateRecord(ctx, zone, rec)
		return err
	})
	return out, err
}

func (r *Retrying) UpdateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	var out Record
	err := r.run(ctx, "update record", func(ctx context.Context) error {
		var err error
		out, err = r.next.UpdateRecord(ctx, zone, rec)
		return err
	})
	return out, err
}

func (r *Retrying) DeleteRecord(ctx context.Context, zone Zone, id string) error {
	return r.run(ctx, "delete record", func(ctx context.Context) error {
		return r.next.DeleteRecord(ctx, zone, id)
	})
}

func (r *Retrying) ListRecords(ctx context.Context, zone Zone, filter Filter) ([]Record, error) {
	var out []Record
	err := r.run(ctx, "list records", func(ctx context.Context) error {
		var err error
		out, err = r.next.ListRecords(ctx, zone, filter)
		return err
	})
	return out, err
}
