// Package http provides HTTP handlers for outbox inspection.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/relay/internal/httputil"
	"github.com/allisson/relay/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/relay/internal/outbox/usecase"
)

// OutboxHandler exposes the dead-letter side of the outbox for operators.
type OutboxHandler struct {
	outboxUseCase outboxUseCase.UseCase
	logger        *slog.Logger
}

// NewOutboxHandler creates a new outbox handler with required dependencies.
func NewOutboxHandler(useCase outboxUseCase.UseCase, logger *slog.Logger) *OutboxHandler {
	return &OutboxHandler{
		outboxUseCase: useCase,
		logger:        logger,
	}
}

// ListDeadEventsHandler lists outbox events that exhausted their retries.
// GET /v1/outbox/dead?offset=0&limit=50 - Returns 200 OK with the most
// recently failed events first. These rows are kept for inspection and manual
// intervention; they are never retried automatically.
func (h *OutboxHandler) ListDeadEventsHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	events, err := h.outboxUseCase.ListDeadEvents(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapDeadEventsToResponse(events))
}
