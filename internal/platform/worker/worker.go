// Package worker runs the background processing loop: poll-based
// iterations, side tasks on their own intervals, context cancellation
// and panic recovery.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const logFieldWorker = "worker"

// ProcessFunc is called each iteration to process work items.
// It should return quickly if no work is available.
type ProcessFunc func(ctx context.Context) error

// PeriodicTask runs alongside the main loop at its own interval.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
	lastRun  time.Time
}

// Config configures the worker loop behavior.
type Config struct {
	// Name identifies the worker for logging.
	Name string

	// PollInterval is the time between process iterations.
	PollInterval time.Duration

	// Process is called each iteration to do the main work.
	Process ProcessFunc

	// PeriodicTasks are run at their configured intervals.
	PeriodicTasks []PeriodicTask

	// OnError is called when Process returns an error.
	// Return true to continue, false to exit the loop.
	OnError func(err error) bool

	// Logger for the worker.
	Logger *zerolog.Logger
}

// Loop runs the worker until the context is canceled or OnError asks to
// stop. Returns a wrapped ctx.Err() on cancellation, or the fatal error.
func Loop(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	logger.Info().Str(logFieldWorker, cfg.Name).Msg("starting worker loop")
	defer logger.Info().Str(logFieldWorker, cfg.Name).Msg("worker loop stopped")

	periodicTasks := make([]PeriodicTask, len(cfg.PeriodicTasks))
	copy(periodicTasks, cfg.PeriodicTasks)

	for {
		if err := checkCanceled(ctx, cfg.Name); err != nil {
			return err
		}

		runPeriodicTasks(ctx, periodicTasks, logger)

		if err := runProcessStep(ctx, cfg, logger); err != nil {
			return err
		}

		if err := Wait(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

// runPeriodicTasks runs any periodic tasks that are due.
func runPeriodicTasks(ctx context.Context, tasks []PeriodicTask, logger *zerolog.Logger) {
	now := time.Now()

	for i := range tasks {
		task := &tasks[i]
		if task.Interval <= 0 || task.Run == nil {
			continue
		}

		if now.Sub(task.lastRun) >= task.Interval {
			logger.Debug().Str("task", task.Name).Msg("running periodic task")
			task.Run(ctx)
			task.lastRun = now
		}
	}
}

func runProcessStep(ctx context.Context, cfg Config, logger *zerolog.Logger) error {
	if cfg.Process == nil {
		return nil
	}

	if err := cfg.Process(ctx); err != nil {
		if cfg.OnError != nil {
			if !cfg.OnError(err) {
				return err
			}

			return nil
		}

		logger.Error().Err(err).Str(logFieldWorker, cfg.Name).Msg("process error")
	}

	return nil
}

func checkCanceled(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("worker loop %s: %w", name, ctx.Err())
	default:
		return nil
	}
}

// Wait blocks until duration elapses or context is canceled.
// Returns a wrapped context error if context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}
