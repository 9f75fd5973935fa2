// internal/assistant/dispatcher.go
package assistant

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/zabbix-assistant/internal/config"
	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// JobStore persists scheduled runs so none is lost across restarts
type JobStore interface {
	ClaimJob(ctx context.Context, turnID string) (bool, error)
	FinishJob(ctx context.Context, turnID, status string) error
	PendingJobs(ctx context.Context, limit int) ([]protocol.Job, error)
	ResetRunningJobs(ctx context.Context) (int64, error)
}

// Runner executes one job to completion
type Runner interface {
	Run(ctx context.Context, job protocol.Job) Outcome
}

// Dispatcher runs persisted jobs on a fixed pool of workers, detached from the
// requests that created them
type Dispatcher struct {
	jobs          JobStore
	runner        Runner
	queue         chan protocol.Job
	workers       int
	sweepInterval time.Duration
	metrics       *metrics.Metrics
}

// NewDispatcher creates a dispatcher. Call Run to start the workers.
func NewDispatcher(jobs JobStore, runner Runner, cfg config.DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	return &Dispatcher{
		jobs:          jobs,
		runner:        runner,
		queue:         make(chan protocol.Job, queueSize),
		workers:       workers,
		sweepInterval: sweep,
		metrics:       m,
	}
}

// Schedule offers an already persisted job to the workers without blocking.
// If the queue is full the job stays pending and the next sweep picks it up.
func (d *Dispatcher) Schedule(job protocol.Job) {
	select {
	case d.queue <- job:
	default:
		log.Warn().Str("turn_id", job.TurnID).Msg("Dispatch queue full, deferring job to sweep")
	}
}

// Run recovers interrupted jobs, then works the queue until ctx is cancelled.
// A claimed job always runs to completion; Run returns after in-flight jobs finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	if n, err := d.jobs.ResetRunningJobs(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int64("jobs", n).Msg("Recovered interrupted jobs")
	}

	log.Info().Int("workers", d.workers).Dur("sweep_interval", d.sweepInterval).Msg("Dispatcher starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		d.sweepLoop(ctx)
		return nil
	})

	err := g.Wait()
	log.Info().Msg("Dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.execute(ctx, job)
		}
	}
}

// execute claims and runs a job on a context that ignores shutdown
func (d *Dispatcher) execute(ctx context.Context, job protocol.Job) {
	runCtx := context.WithoutCancel(ctx)

	claimed, err := d.jobs.ClaimJob(runCtx, job.TurnID)
	if err != nil {
		log.Error().Err(err).Str("turn_id", job.TurnID).Msg("Claim job")
		return
	}
	if !claimed {
		// Already run or running elsewhere
		return
	}

	d.metrics.JobStarted()
	outcome := d.runner.Run(runCtx, job)
	d.metrics.JobFinished()

	if err := d.jobs.FinishJob(runCtx, job.TurnID, string(outcome)); err != nil {
		log.Error().Err(err).Str("turn_id", job.TurnID).Str("outcome", string(outcome)).Msg("Record job outcome")
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	d.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep re-offers pending jobs. Duplicates in the queue are harmless since
// only one claim per job succeeds.
func (d *Dispatcher) sweep(ctx context.Context) {
	pending, err := d.jobs.PendingJobs(ctx, cap(d.queue))
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Load pending jobs")
		}
		return
	}
	for _, job := range pending {
		select {
		case d.queue <- job:
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}
