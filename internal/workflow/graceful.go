package workflow

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imtaco/stream-liveness/internal/log"
)

// Step is one named unit of shutdown work. Steps run in order; a failing step
// is logged and does not stop the ones after it.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// RunSteps executes steps sequentially until ctx expires.
func RunSteps(ctx context.Context, logger *log.Logger, steps []Step) {
	for _, step := range steps {
		if ctx.Err() != nil {
			logger.Warn("Skipping shutdown step, deadline exceeded", log.String("step", step.Name))
			continue
		}
		start := time.Now()
		if err := step.Fn(ctx); err != nil {
			logger.Error("Shutdown step failed", log.String("step", step.Name), log.Error(err))
			continue
		}
		logger.Debug("Shutdown step done",
			log.String("step", step.Name),
			log.Duration("took", time.Since(start)))
	}
}

// WaitGracefulShutdown blocks until ctx is done or SIGINT/SIGTERM arrives, then
// runs steps within timeout.
func WaitGracefulShutdown(
	ctx context.Context,
	logger *log.Logger,
	steps []Step,
	timeout time.Duration,
) {
	logger.Info("Graceful shutdown handler registered")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(
		ctx,
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	<-ctx.Done()
	done := make(chan struct{})

	ctxClean, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic during graceful shutdown",
					log.Any("error", r))
			}
		}()
		logger.Info("Starting graceful shutdown")
		RunSteps(ctxClean, logger, steps)
	}()

	select {
	case <-ctxClean.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	case <-done:
		logger.Info("Graceful shutdown completed")
	}
}
