// Package scheduler runs the background jobs that keep the catalog and
// caches fresh: per-connection synchronization (on startup and/or on an
// interval) and periodic cache maintenance. Grounded on catalog-api's
// internal/services/universal_scanner.go ticker + stopCh + sync.WaitGroup
// idiom, with a per-job mutex standing in for the original's
// max_instances=1 job guard (APScheduler skips a run already in progress
// rather than queuing a second one).
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of scheduled work.
type Job struct {
	Name     string
	Interval time.Duration // 0 means no repeats: the job runs once if RunNow is set, otherwise never
	RunNow   bool
	Fn       func(ctx context.Context) error
}

// Scheduler runs a set of Jobs, each on its own ticker goroutine, skipping
// a tick if the previous run of that same job hasn't finished yet.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger,
		running: make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
}

// Start launches a goroutine per job. Start must only be called once.
func (s *Scheduler) Start(jobs []Job) {
	for _, job := range jobs {
		job := job
		s.wg.Add(1)
		go s.run(job)
	}
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()

	if job.RunNow {
		s.tick(job)
	}

	if job.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(job)
		}
	}
}

// tick runs job.Fn once, skipping the call entirely if the previous
// invocation of this job name is still running.
func (s *Scheduler) tick(job Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Debug("skipping job still in progress", zap.String("job", job.Name))
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[job.Name] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := job.Fn(context.Background()); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	s.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)))
}

// Stop signals every job goroutine to exit and waits for them to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
