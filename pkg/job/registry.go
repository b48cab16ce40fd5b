package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/robfig/cron/v3"
)

// Runner executes registered tasks.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, name string, payload any) error
	Healthcheck(ctx context.Context) error
}

type handler func(ctx context.Context, payload json.RawMessage) error

type schedule struct {
	name string
	spec cron.Schedule
	expr string
	run  func(context.Context) error
}

type registry struct {
	mu        sync.RWMutex
	handlers  map[string]handler
	schedules []schedule
	logger    *slog.Logger
	errs      []error
}

func newRegistry(opts []Option) (*registry, error) {
	r := &registry{
		handlers: make(map[string]handler),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, errors.Join(r.errs...)
}

func (r *registry) lookup(name string) (handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	return s, nil
}

// Option registers tasks and settings on a runner.
type Option func(*registry)

// WithTask registers a task that receives a JSON payload of type P.
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) Option {
	return func(r *registry) {
		r.handlers[task.Name()] = func(ctx context.Context, raw json.RawMessage) error {
			var p P
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &p); err != nil {
					return errors.Join(ErrInvalidPayload, err)
				}
			}
			return task.Handle(ctx, p)
		}
	}
}

// WithScheduledTask registers a periodic task. Schedule returns a cron
// expression; an empty expression disables the task.
func WithScheduledTask[T interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}](task T) Option {
	return func(r *registry) {
		expr := task.Schedule()
		if expr == "" {
			return
		}
		spec, err := ParseSchedule(expr)
		if err != nil {
			r.errs = append(r.errs, err)
			return
		}
		r.schedules = append(r.schedules, schedule{name: task.Name(), spec: spec, expr: expr, run: task.Handle})
		// Scheduled tasks can also be triggered on demand.
		r.handlers[task.Name()] = func(ctx context.Context, _ json.RawMessage) error {
			return task.Handle(ctx)
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func (r *registry) execute(ctx context.Context, name string, payload json.RawMessage, attempt int) error {
	h, ok := r.lookup(name)
	if !ok {
		return errors.Join(ErrUnknownTask, errors.New(name))
	}
	if err := h(ctx, payload); err != nil {
		r.logger.ErrorContext(ctx, "task failed",
			slog.String("task", name),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return err
	}
	r.logger.DebugContext(ctx, "task completed", slog.String("task", name), slog.Int("attempt", attempt))
	return nil
}
