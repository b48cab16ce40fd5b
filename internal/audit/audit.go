// Package audit is a fire-and-forget side channel for security relevant
// events. Recording never blocks and never fails the caller: when the
// buffer is full the event is dropped and counted.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is one audit entry.
type Event struct {
	Time     time.Time
	Action   string
	ActorID  string
	TargetID string
	Outcome  string
	Attrs    []slog.Attr
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Logger writes events to a slog logger from a background goroutine.
type Logger struct {
	log     *slog.Logger
	events  chan Event
	now     func() time.Time
	onDrop  func()
	dropped atomic.Int64

	once sync.Once
	done chan struct{}
}

type Option func(*Logger)

// WithDropHook is called for every dropped event.
func WithDropHook(fn func()) Option {
	return func(l *Logger) { l.onDrop = fn }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger starts the writer goroutine. buffer <= 0 means 1024.
func NewLogger(log *slog.Logger, buffer int, opts ...Option) *Logger {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l := &Logger{
		log:    log.With(slog.String("channel", "audit")),
		events: make(chan Event, buffer),
		now:    time.Now,
		onDrop: func() {},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Record enqueues ev without blocking. Recording after Close drops the event.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	select {
	case <-l.done:
		l.drop()
		return
	default:
	}
	select {
	case l.events <- ev:
	default:
		l.drop()
	}
}

func (l *Logger) drop() {
	l.dropped.Add(1)
	l.onDrop()
}

// Dropped returns the number of events discarded so far.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

func (l *Logger) run() {
	for {
		select {
		case ev := <-l.events:
			l.write(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.events:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(ev Event) {
	attrs := make([]slog.Attr, 0, len(ev.Attrs)+5)
	attrs = append(attrs,
		slog.Time("at", ev.Time),
		slog.String("action", ev.Action),
		slog.String("actor_id", ev.ActorID),
		slog.String("target_id", ev.TargetID),
		slog.String("outcome", ev.Outcome),
	)
	attrs = append(attrs, ev.Attrs...)
	l.log.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// Close stops accepting events and flushes what is buffered.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
