package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/relay/internal/userstate/domain"
	"github.com/allisson/relay/internal/userstate/repository"
	userStateUseCase "github.com/allisson/relay/internal/userstate/usecase"
)

type middlewareFixture struct {
	router *gin.Engine
	repo   *repository.RedisUserStateRepository
}

func newMiddlewareFixture(t *testing.T, requiredRole string) *middlewareFixture {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close() //nolint:errcheck
	})

	repo := repository.NewRedisUserStateRepository(client, "user_state:")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	useCase := userStateUseCase.NewUserStateUseCase(repo, logger, nil)

	router := gin.New()
	group := router.Group("/protected")
	group.Use(IdentityMiddleware(useCase, logger))
	if requiredRole != "" {
		group.Use(RequireRole(requiredRole, logger))
	}
	group.GET("", func(c *gin.Context) {
		identity, ok := GetIdentity(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID.String()})
	})

	return &middlewareFixture{router: router, repo: repo}
}

func (f *middlewareFixture) cacheUser(t *testing.T, roles []string, status domain.Status) uuid.UUID {
	t.Helper()

	userID := uuid.Must(uuid.NewV7())
	require.NoError(t, f.repo.Set(context.Background(), &domain.UserState{
		UserID:         userID,
		Email:          "alice@example.com",
		Roles:          roles,
		Status:         status,
		LastLoginAt:    time.Now().UTC(),
		CacheUpdatedAt: time.Now().UTC(),
	}))
	return userID
}

func (f *middlewareFixture) request(headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestIdentityMiddleware(t *testing.T) {
	t.Run("active cached user is admitted", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "")
		userID := fixture.cacheUser(t, []string{"User"}, domain.StatusActive)

		w := fixture.request(map[string]string{
			"X-User-Id":     userID.String(),
			"X-Auth-Method": "jwt",
		})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing user id header", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "")

		w := fixture.request(nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed user id header", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "")

		w := fixture.request(map[string]string{"X-User-Id": "not-a-uuid"})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("uncached user is rejected", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "")

		w := fixture.request(map[string]string{
			"X-User-Id": uuid.Must(uuid.NewV7()).String(),
		})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("suspended user is rejected", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "")
		userID := fixture.cacheUser(t, []string{"User"}, domain.StatusSuspended)

		w := fixture.request(map[string]string{"X-User-Id": userID.String()})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	t.Run("role from gateway header", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "Admin")
		userID := fixture.cacheUser(t, []string{"User"}, domain.StatusActive)

		w := fixture.request(map[string]string{
			"X-User-Id":    userID.String(),
			"X-User-Roles": "User, Admin",
		})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("role falls back to cached state", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "Admin")
		userID := fixture.cacheUser(t, []string{"Admin"}, domain.StatusActive)

		w := fixture.request(map[string]string{"X-User-Id": userID.String()})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing role is forbidden", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "Admin")
		userID := fixture.cacheUser(t, []string{"User"}, domain.StatusActive)

		w := fixture.request(map[string]string{
			"X-User-Id":    userID.String(),
			"X-User-Roles": "User",
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("role comparison is case-insensitive", func(t *testing.T) {
		fixture := newMiddlewareFixture(t, "Admin")
		userID := fixture.cacheUser(t, []string{"User"}, domain.StatusActive)

		w := fixture.request(map[string]string{
			"X-User-Id":    userID.String(),
			"X-User-Roles": "admin",
		})

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
