package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thrillee/aegisrouter/internal/logging"
)

// DefaultRunTimeout bounds a single job run.
const DefaultRunTimeout = time.Minute

// Scheduler runs background jobs on cron schedules ("@every 60s", "*/5 * * * *").
// A job never overlaps with itself: a run still going when the next tick fires is skipped.
type Scheduler struct {
	cron       *cron.Cron
	runTimeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]cron.EntryID
}

func NewScheduler(runTimeout time.Duration) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runTimeout: runTimeout,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]cron.EntryID),
	}
}

// Schedule registers fn under name. Scheduling an existing name replaces it.
func (s *Scheduler) Schedule(name, spec string, fn WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := logging.ContextWithHandler(s.ctx, name)
	id, err := s.cron.AddFunc(spec, func() { runWork(ctx, name, s.runTimeout, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	slog.Info("Worker scheduled", slog.String("worker", name), slog.String("schedule", spec))
	return nil
}

// RunNow runs the job name once, synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker named %s", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Workers still running at shutdown")
	}
}
