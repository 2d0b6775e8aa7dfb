// Package scheduler runs the pipeline's periodic jobs. Each job has its own
// cadence and a wall-clock budget; a slow or panicking job can delay only
// itself.
package scheduler

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/logging"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Job pairs a name with a cadence.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Scheduler drives a set of jobs until its context is cancelled.
type Scheduler struct {
	jobs   []Job
	budget time.Duration
	logger *zap.Logger
}

// New constructs a Scheduler. budget bounds each job invocation; zero means
// ten minutes.
func New(budget time.Duration, logger *zap.Logger) *Scheduler {
	if budget <= 0 {
		budget = 10 * time.Minute
	}
	return &Scheduler{budget: budget, logger: logger}
}

// Register adds a job. Jobs with a non-positive interval are skipped, which
// is how configuration disables a source.
func (s *Scheduler) Register(name string, interval time.Duration, run JobFunc) {
	if interval <= 0 {
		s.logger.Info("job disabled", zap.String("job", name))
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per job and blocks until ctx is cancelled
// and every job loop has drained. Each job runs once shortly after start
// (with a small jitter so the sources do not stampede), then on its ticker.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := logging.ForJob(s.logger, job.Name)

	maxJitter := job.Interval
	if maxJitter > 10*time.Second {
		maxJitter = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}
	s.runOnce(ctx, job, logger)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job, logger)
		}
	}
}

// runOnce executes a single invocation under the budget, recovering panics
// so one bad pass cannot take the scheduler down.
func (s *Scheduler) runOnce(ctx context.Context, job Job, logger *zap.Logger) {
	jobCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	if err := job.Run(jobCtx); err != nil {
		logger.Warn("job failed",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	logger.Debug("job completed", zap.Duration("elapsed", time.Since(start)))
}
