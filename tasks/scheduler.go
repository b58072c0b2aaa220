package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrSchedulerStarted = errors.New("scheduler already started")

type job struct {
	name     string
	interval time.Duration
	fn       Func
}

// Scheduler runs jobs on fixed intervals until its context is done.
// A failing run is logged and the job keeps its schedule.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []job
	started bool
	wg      sync.WaitGroup
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Every schedules fn to run every interval. The first run happens one
// interval after Start.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	if fn == nil {
		return errors.New("job needs a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches one goroutine per job and returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	log := s.logger.With(zap.String("job", j.name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error("job failed", zap.Error(err))
		}
		return
	}
	log.Debug("job completed", zap.Duration("took", time.Since(start)))
}
