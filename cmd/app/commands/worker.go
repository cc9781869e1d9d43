package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
)

// RunWorker starts the event consumer and the outbox dispatcher.
// Both loops run until receiving SIGINT/SIGTERM; the consumer acknowledges
// in-flight deliveries before the process exits.
func RunWorker(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting worker", slog.String("version", version))

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Subscribe the orchestrator and the user state maintainer before consuming
	if err := container.RegisterEventHandlers(); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	bus, err := container.Bus()
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}

	outboxUseCase, err := container.OutboxUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize outbox use case: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bus.StartConsuming(ctx); err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := outboxUseCase.Start(groupCtx); err != nil && !isContextError(err) {
			return fmt.Errorf("outbox dispatcher error: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("worker stopped")
	return nil
}

// isContextError reports whether err is a context cancellation or deadline error.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
