package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// taskArgs is the single River job kind; the task name selects the handler.
type taskArgs struct {
	Task    string          `json:"task"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string { return "provisioner:task" }

type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	reg *registry
}

func (w *taskWorker) Work(ctx context.Context, j *river.Job[taskArgs]) error {
	return w.reg.execute(ctx, j.Args.Task, j.Args.Payload, j.Attempt)
}

// cronSchedule adapts a cron.Schedule to river.PeriodicSchedule.
type cronSchedule struct{ s interface{ Next(time.Time) time.Time } }

func (c cronSchedule) Next(t time.Time) time.Time { return c.s.Next(t) }

// River runs tasks on River queues backed by PostgreSQL.
type River struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	reg    *registry

	mu      sync.Mutex
	started bool
}

// RiverConfig tunes the River client.
type RiverConfig struct {
	MaxWorkers int `env:"JOB_MAX_WORKERS" envDefault:"10"`
}

// NewRiver builds a River runner. Jobs may be enqueued before Start.
func NewRiver(pool *pgxpool.Pool, cfg RiverConfig, opts ...Option) (*River, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	reg, err := newRegistry(opts)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{reg: reg})

	periodic := make([]*river.PeriodicJob, 0, len(reg.schedules))
	for _, s := range reg.schedules {
		name := s.name
		periodic = append(periodic, river.NewPeriodicJob(
			cronSchedule{s.spec},
			func() (river.JobArgs, *river.InsertOpts) { return taskArgs{Task: name}, nil },
			&river.PeriodicJobOpts{RunOnStart: false},
		))
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: max(cfg.MaxWorkers, 1)}},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       reg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create river client: %w", err)
	}
	return &River{pool: pool, client: client, reg: reg}, nil
}

// MigrateRiver installs or upgrades River's own tables.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	m, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("job: river migrator: %w", err)
	}
	res, err := m.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("job: river migrate: %w", err)
	}
	if log != nil {
		log.InfoContext(ctx, "river schema up to date", slog.Int("applied", len(res.Versions)))
	}
	return nil
}

func (r *River) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("job: start river: %w", err)
	}
	r.started = true
	r.reg.logger.InfoContext(ctx, "job runner started", slog.String("backend", "river"), slog.Any("tasks", r.reg.names()))
	return nil
}

func (r *River) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return ErrNotStarted
	}
	if err := r.client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop river: %w", err)
	}
	r.started = false
	return nil
}

// Enqueue inserts a job for a registered task.
func (r *River) Enqueue(ctx context.Context, name string, payload any) error {
	args, err := newArgs(r.reg, name, payload)
	if err != nil {
		return err
	}
	if _, err := r.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("job: enqueue %s: %w", name, err)
	}
	return nil
}

// EnqueueTx inserts the job inside tx; it becomes visible on commit.
func (r *River) EnqueueTx(ctx context.Context, tx pgx.Tx, name string, payload any) error {
	args, err := newArgs(r.reg, name, payload)
	if err != nil {
		return err
	}
	if _, err := r.client.InsertTx(ctx, tx, args, nil); err != nil {
		return fmt.Errorf("job: enqueue %s: %w", name, err)
	}
	return nil
}

// Healthcheck verifies the database behind the queue is reachable.
func (r *River) Healthcheck(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return errors.Join(ErrHealthcheck, err)
	}
	return nil
}

func newArgs(reg *registry, name string, payload any) (taskArgs, error) {
	if _, ok := reg.lookup(name); !ok {
		return taskArgs{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	args := taskArgs{Task: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return taskArgs{}, errors.Join(ErrInvalidPayload, err)
		}
		args.Payload = raw
	}
	return args, nil
}
