package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// WorkerFunc performs one run of a job and returns the number of items processed.
type WorkerFunc func(ctx context.Context) (int, error)

// ErrNothingToDo can be returned by a WorkerFunc when the run found no work.
var ErrNothingToDo = errors.New("nothing to do")

// runWork executes a single run of fn with a timeout.
func runWork(ctx context.Context, name string, timeout time.Duration, fn WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	processed, err := fn(runCtx)
	switch {
	case errors.Is(err, ErrNothingToDo):
	case err != nil:
		slog.ErrorContext(ctx, "Worker run failed", slog.String("worker", name), slog.Any("error", err))
	case processed > 0:
		slog.InfoContext(ctx, "Worker run done",
			slog.String("worker", name),
			slog.Int("processed", processed),
			slog.Duration("took", time.Since(started)))
	}
}
