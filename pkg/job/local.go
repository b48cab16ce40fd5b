package job

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Local runs tasks in-process: scheduled tasks on a cron scheduler and
// enqueued tasks on their own goroutine. Nothing survives a restart.
type Local struct {
	reg  *registry
	cron *cron.Cron

	mu       sync.Mutex
	started  bool
	inflight sync.WaitGroup
	base     context.Context
	cancel   context.CancelFunc
}

// NewLocal builds an in-process runner.
func NewLocal(opts ...Option) (*Local, error) {
	reg, err := newRegistry(opts)
	if err != nil {
		return nil, err
	}
	l := &Local{reg: reg, cron: cron.New(cron.WithParser(cronParser))}
	for _, s := range reg.schedules {
		l.cron.Schedule(s.spec, cron.FuncJob(func() {
			l.inflight.Add(1)
			l.run(s.name, nil)
		}))
	}
	return l, nil
}

func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	l.base, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	l.cron.Start()
	l.started = true
	l.reg.logger.InfoContext(ctx, "job runner started", slog.String("backend", "local"), slog.Any("tasks", l.reg.names()))
	return nil
}

// Stop halts the scheduler and waits for running tasks or ctx expiry,
// whichever comes first. Running tasks are cancelled on expiry.
func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return ErrNotStarted
	}
	l.started = false
	l.mu.Unlock()

	cronDone := l.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		l.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		return ctx.Err()
	}
}

// Enqueue runs the task asynchronously. The runner must be started.
func (l *Local) Enqueue(_ context.Context, name string, payload any) error {
	args, err := newArgs(l.reg, name, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	l.inflight.Add(1)
	go l.run(args.Task, args.Payload)
	return nil
}

// run executes one task. Callers add to inflight beforehand.
func (l *Local) run(name string, payload []byte) {
	defer l.inflight.Done()
	_ = l.reg.execute(l.base, name, payload, 1)
}

// Healthcheck always succeeds while the runner is started.
func (l *Local) Healthcheck(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return ErrNotStarted
	}
	return nil
}

var (
	_ Runner = (*Local)(nil)
	_ Runner = (*River)(nil)
)
