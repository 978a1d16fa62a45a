package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrison/rendertest/internal/models"
)

// BatchRunner defines the behavior required to execute a batch.
type BatchRunner interface {
	Run(ctx context.Context) (*models.BatchResult, error)
}

// Orchestrator wraps a batch run with graceful shutdown and the final summary.
type Orchestrator struct {
	runner BatchRunner
	logger Logger
}

// NewOrchestrator creates a new Orchestrator instance.
// The logger parameter is optional and can be nil.
func NewOrchestrator(runner BatchRunner, logger Logger) *Orchestrator {
	if runner == nil {
		panic("batch runner cannot be nil")
	}

	return &Orchestrator{
		runner: runner,
		logger: logger,
	}
}

// ExecuteBatch runs the batch with SIGINT/SIGTERM handling. A signal cancels
// the batch context, which kills the render tree in flight; cases not yet
// started are reported as crashed and aggregation still runs.
func (o *Orchestrator) ExecuteBatch(ctx context.Context) (*models.BatchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			if o.logger != nil {
				o.logger.LogWarn("Received interrupt signal, shutting down gracefully...")
			} else {
				fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := o.runner.Run(ctx)

	if result != nil && o.logger != nil {
		o.logger.LogSummary(*result)
	}

	return result, err
}
