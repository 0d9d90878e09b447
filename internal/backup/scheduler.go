package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler triggers a backup function on a fixed interval. The same mutex
// serializes scheduled runs and on-demand runs from the admin endpoint, so at
// most one VACUUM INTO is in flight at a time.
type Scheduler struct {
	fn       func(ctx context.Context) error
	interval time.Duration
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler starts the ticker goroutine. An interval of zero (or less)
// disables scheduling; RunOnce still works for on-demand backups.
func NewScheduler(fn func(ctx context.Context) error, interval time.Duration) *Scheduler {
	s := &Scheduler{
		fn:       fn,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if interval <= 0 {
		close(s.done)
		return s
	}
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(context.Background()); err != nil {
				slog.Error("periodic backup failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// RunOnce executes a single serialized backup.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn(ctx)
}

// Shutdown stops the ticker goroutine and waits until it has exited.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	<-s.done
}
