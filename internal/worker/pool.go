// Package worker claims jobs from Postgres and runs them through the tool
// pipeline with a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/pipeline"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultHeartbeat    = 30 * time.Second
	defaultOrphanAfter  = 10 * time.Minute
	settleTimeout       = 15 * time.Second
)

// JobRunner executes one claimed job. *pipeline.Runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job *domain.Job) (*pipeline.Outcome, error)
}

type Options struct {
	Jobs    domain.JobRepository
	Runner  JobRunner
	Settler *Settler
	// Wakeups nudges idle goroutines; nil means poll only.
	Wakeups      <-chan string
	Concurrency  int
	PollInterval time.Duration
	Heartbeat    time.Duration
	OrphanAfter  time.Duration
	Logger       *infra.Logger
}

// Pool runs up to Concurrency jobs at once.
type Pool struct {
	jobs         domain.JobRepository
	runner       JobRunner
	settler      *Settler
	wakeups      <-chan string
	concurrency  int
	pollInterval time.Duration
	heartbeat    time.Duration
	orphanAfter  time.Duration
	logger       *infra.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewPool(opts Options) (*Pool, error) {
	if opts.Jobs == nil || opts.Runner == nil || opts.Settler == nil {
		return nil, errors.New("worker: jobs, runner and settler are required")
	}
	p := &Pool{
		jobs:         opts.Jobs,
		runner:       opts.Runner,
		settler:      opts.Settler,
		wakeups:      opts.Wakeups,
		concurrency:  max(opts.Concurrency, 1),
		pollInterval: opts.PollInterval,
		heartbeat:    opts.Heartbeat,
		orphanAfter:  opts.OrphanAfter,
		logger:       opts.Logger,
		running:      make(map[string]context.CancelFunc),
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	if p.heartbeat <= 0 {
		p.heartbeat = defaultHeartbeat
	}
	if p.orphanAfter <= 0 {
		p.orphanAfter = defaultOrphanAfter
	}
	if p.logger == nil {
		p.logger = infra.DiscardLogger()
	}
	return p, nil
}

// Run blocks until ctx is cancelled. Jobs interrupted by shutdown stay in
// processing and are requeued by orphan recovery once their heartbeat ages.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("concurrency", p.concurrency).Msg("worker: started")
	p.recoverOrphans(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, slot)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()
	wg.Wait()

	p.logger.Info().Msg("worker: stopped")
	return nil
}

// Cancel interrupts a job running in this process.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Running lists the ids of jobs in flight in this process.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}

func (p *Pool) loop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		job, err := p.jobs.Claim(ctx)
		switch {
		case err == nil:
			p.process(ctx, job)
			continue
		case errors.Is(err, domain.ErrNotFound), ctx.Err() != nil:
		default:
			p.logger.Error().Err(err).Int("slot", slot).Msg("worker: claim failed")
		}
		p.idle(ctx)
	}
}

// idle waits for a wakeup, the poll interval, or shutdown.
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-p.wakeups:
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job) {
	log := p.logger.With().Str("job_id", job.ID).Str("tool", string(job.ToolID)).Logger()
	log.Info().Msg("worker: picked job")

	jobCtx, cancel := context.WithCancel(ctx)
	p.track(job.ID, cancel)
	start := time.Now()
	out, runErr := p.runner.Run(jobCtx, job)
	elapsed := time.Since(start)
	p.untrack(job.ID)
	cancel()

	if ctx.Err() != nil {
		log.Warn().Msg("worker: interrupted by shutdown, leaving job for orphan recovery")
		return
	}

	settleCtx, done := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer done()
	switch {
	case runErr == nil:
		if err := p.settler.Succeed(settleCtx, job, out, elapsed); err != nil {
			log.Error().Err(err).Msg("worker: record success failed")
			return
		}
		log.Info().Dur("elapsed", elapsed).Str("provider_id", out.ProviderID).Msg("worker: job done")
	case errors.Is(runErr, domain.ErrCancelled) || errors.Is(runErr, context.Canceled):
		log.Info().Msg("worker: job cancelled")
	default:
		if err := p.settler.Fail(settleCtx, job, runErr, elapsed); err != nil {
			log.Error().Err(err).Msg("worker: record failure failed")
			return
		}
		log.Warn().Err(runErr).Dur("elapsed", elapsed).Msg("worker: job failed")
	}
}

func (p *Pool) track(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[id] = cancel
	p.mu.Unlock()
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
}

// maintain sends heartbeats for running jobs and periodically requeues
// processing jobs whose owner stopped heartbeating.
func (p *Pool) maintain(ctx context.Context) {
	beat := time.NewTicker(p.heartbeat)
	defer beat.Stop()
	sweep := time.NewTicker(max(p.orphanAfter/2, p.pollInterval))
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			if ids := p.Running(); len(ids) > 0 {
				if err := p.jobs.Heartbeat(ctx, ids); err != nil {
					p.logger.Warn().Err(err).Int("jobs", len(ids)).Msg("worker: heartbeat failed")
				}
			}
		case <-sweep.C:
			p.recoverOrphans(ctx)
		}
	}
}

func (p *Pool) recoverOrphans(ctx context.Context) {
	jobs, err := p.jobs.RequeueOrphaned(ctx, p.orphanAfter)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("worker: orphan recovery failed")
		}
		return
	}
	for i := range jobs {
		job := &jobs[i]
		if err := p.settler.Requeued(ctx, job); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: reset orphaned edit failed")
		}
		p.logger.Warn().Str("job_id", job.ID).Str("edit_id", job.EditID).Msg("worker: requeued orphaned job")
	}
}
