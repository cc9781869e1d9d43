package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	userStateUsecase "github.com/allisson/relay/internal/userstate/usecase"
)

// RunCleanUserStates deletes cached user states older than the specified age.
// Supports both text/JSON output formats.
//
// Requirements: the cache store must be accessible.
func RunCleanUserStates(
	ctx context.Context,
	userStateUseCase userStateUsecase.UseCase,
	logger *slog.Logger,
	out io.Writer,
	maxAgeHours int,
	format string,
) error {
	if maxAgeHours <= 0 {
		return fmt.Errorf("max-age-hours must be a positive number, got: %d", maxAgeHours)
	}

	maxAge := time.Duration(maxAgeHours) * time.Hour
	logger.Info("cleaning user states",
		slog.Int("max_age_hours", maxAgeHours),
	)

	count, err := userStateUseCase.CleanupStaleStates(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("failed to clean user states: %w", err)
	}

	if format == "json" {
		outputCleanUserStatesJSON(out, count, maxAgeHours)
	} else {
		outputCleanUserStatesText(out, count, maxAgeHours)
	}

	logger.Info("cleanup completed",
		slog.Int("count", count),
		slog.Int("max_age_hours", maxAgeHours),
	)

	return nil
}

// outputCleanUserStatesText outputs the result in human-readable text format.
func outputCleanUserStatesText(out io.Writer, count, maxAgeHours int) {
	fmt.Fprintf(out, "Successfully deleted %d user state(s) older than %d hour(s)\n", count, maxAgeHours)
}

// outputCleanUserStatesJSON outputs the result in JSON format for machine consumption.
func outputCleanUserStatesJSON(out io.Writer, count, maxAgeHours int) {
	result := map[string]interface{}{
		"count":         count,
		"max_age_hours": maxAgeHours,
	}

	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "failed to marshal JSON: %v\n", err)
		return
	}

	fmt.Fprintln(out, string(jsonBytes))
}
