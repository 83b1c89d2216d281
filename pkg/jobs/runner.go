package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a named maintenance task executed on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error
}

// Runner drives periodic background jobs. Each job gets its own goroutine
// and ticker; a failing run is logged and retried on the next tick.
type Runner struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner builds an empty runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || job.Run == nil || job.Interval <= 0 {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Start launches one goroutine per registered job. Safe to call once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	r.started = true
	r.logger.Sugar().Infow("job runner started", "jobs", len(r.jobs))
}

// Stop cancels all jobs and waits for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Sugar().Infow("job runner stopped")
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				r.logger.Sugar().Warnw("job run failed", "job", job.Name, "error", err)
			}
		}
	}
}
