package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs a task immediately on Start and then again interval after
// each run returns. Runs never overlap, and Stop waits for the current run
// instead of cancelling it.
type Scheduler struct {
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(interval time.Duration, task func(ctx context.Context) error, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		task:     task,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		if err := s.task(context.Background()); err != nil {
			s.logger.Error("failed to execute task", "error", err)
		}

		select {
		case <-stopCh:
			return
		default:
		}
		timer.Reset(s.interval)
	}
}
