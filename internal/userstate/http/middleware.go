package http

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/httputil"
	userStateUseCase "github.com/allisson/relay/internal/userstate/usecase"
)

// IdentityMiddleware resolves the caller identity from gateway headers and
// verifies it against the user-state cache.
//
// The service sits behind a gateway that authenticates requests and forwards
// the result as headers:
//   - X-User-Id: the authenticated user's UUID
//   - X-User-Roles: comma-separated role list
//   - X-Auth-Method: how the gateway authenticated the caller
//
// The headers alone are not trusted for authorization state: the user must
// still be present and active in the user-state cache. A user missing from the
// cache is not logged in anywhere, so the request is rejected. When the roles
// header is absent the cached role list is used instead.
//
// Error handling:
//   - Missing or malformed X-User-Id → 401 Unauthorized
//   - User not cached or not active → 401 Unauthorized
//
// Usage:
//
//	operator.Use(IdentityMiddleware(userStateUseCase, logger))
//	operator.Use(RequireRole("Admin", logger))
func IdentityMiddleware(
	userState userStateUseCase.UseCase,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDHeader := c.GetHeader("X-User-Id")
		if userIDHeader == "" {
			logger.Debug("identity resolution failed: missing X-User-Id header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		userID, err := uuid.Parse(userIDHeader)
		if err != nil {
			logger.Debug("identity resolution failed: malformed X-User-Id header",
				slog.String("header", userIDHeader))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		state, err := userState.GetState(c.Request.Context(), userID)
		if err != nil || !state.IsActive() {
			logger.Debug("identity resolution failed: user not active in cache",
				slog.String("user_id", userID.String()))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		roles := parseRoles(c.GetHeader("X-User-Roles"))
		if len(roles) == 0 {
			roles = state.Roles
		}

		identity := &Identity{
			UserID:     userID,
			Roles:      roles,
			AuthMethod: c.GetHeader("X-Auth-Method"),
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))

		c.Next()
	}
}

// RequireRole rejects requests whose resolved identity does not hold the role.
// MUST be used after IdentityMiddleware.
func RequireRole(role string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c.Request.Context())
		if !ok {
			logger.Error("require role middleware: no identity in context")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		for _, held := range identity.Roles {
			if strings.EqualFold(held, role) {
				c.Next()
				return
			}
		}

		logger.Debug("authorization failed: missing role",
			slog.String("user_id", identity.UserID.String()),
			slog.String("role", role))
		httputil.HandleErrorGin(c, apperrors.ErrForbidden, logger)
		c.Abort()
	}
}

// parseRoles splits the comma-separated roles header and trims whitespace.
func parseRoles(header string) []string {
	if header == "" {
		return nil
	}

	parts := strings.Split(header, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
