// Package usecase maintains the distributed user-state cache by reacting to
// authorization-relevant events, and answers authorization queries from it.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/eventbus"
	"github.com/allisson/relay/internal/metrics"
	"github.com/allisson/relay/internal/userstate/domain"
)

// UserStateRepository defines cached user state persistence operations
type UserStateRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserState, error)
	Set(ctx context.Context, state *domain.UserState) error
	Delete(ctx context.Context, userID uuid.UUID) error
	List(ctx context.Context) ([]*domain.UserState, error)
}

// UseCase defines the interface for user state operations
type UseCase interface {
	RegisterHandlers(bus *eventbus.Bus) error
	GetState(ctx context.Context, userID uuid.UUID) (*domain.UserState, error)
	IsUserActive(ctx context.Context, userID uuid.UUID) bool
	HasRole(ctx context.Context, userID uuid.UUID, role string) bool
	ValidateRefreshToken(ctx context.Context, userID uuid.UUID, token string) bool
	ListActiveUsers(ctx context.Context) ([]*domain.UserState, error)
	CleanupStaleStates(ctx context.Context, maxAge time.Duration) (int, error)
}

// UserStateUseCase implements the cache maintenance handlers and the
// authorization queries backed by the cache.
type UserStateUseCase struct {
	repo    UserStateRepository
	logger  *slog.Logger
	metrics metrics.BusinessMetrics
	now     func() time.Time
}

// NewUserStateUseCase creates a new UserStateUseCase
func NewUserStateUseCase(
	repo UserStateRepository,
	logger *slog.Logger,
	businessMetrics metrics.BusinessMetrics,
) *UserStateUseCase {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &UserStateUseCase{
		repo:    repo,
		logger:  logger,
		metrics: businessMetrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandlers subscribes the cache maintenance handlers.
func (uc *UserStateUseCase) RegisterHandlers(bus *eventbus.Bus) error {
	subscriptions := []struct {
		eventType string
		decode    eventbus.DecodeFunc
		handle    func(ctx context.Context, event any) error
	}{
		{domain.EventUserLoggedIn, eventbus.DecodeJSON[domain.UserLoggedIn](), uc.onUserLoggedIn},
		{domain.EventUserLoggedOut, eventbus.DecodeJSON[domain.UserLoggedOut](), uc.onUserLoggedOut},
		{domain.EventUserRolesChanged, eventbus.DecodeJSON[domain.UserRolesChanged](), uc.onUserRolesChanged},
		{domain.EventUserStatusChanged, eventbus.DecodeJSON[domain.UserStatusChanged](), uc.onUserStatusChanged},
		{domain.EventRefreshTokenRevoked, eventbus.DecodeJSON[domain.RefreshTokenRevoked](), uc.onRefreshTokenRevoked},
		{domain.EventSubscriptionChanged, eventbus.DecodeJSON[domain.SubscriptionChanged](), uc.onSubscriptionChanged},
	}

	for _, sub := range subscriptions {
		handler := eventbus.NewHandler("user-state-cache", sub.handle)
		if err := bus.Subscribe(sub.eventType, sub.decode, handler); err != nil {
			return apperrors.Wrapf(err, "failed to subscribe user state cache to %s", sub.eventType)
		}
	}
	return nil
}

// GetState returns a user's cached authorization state.
func (uc *UserStateUseCase) GetState(ctx context.Context, userID uuid.UUID) (*domain.UserState, error) {
	return uc.repo.Get(ctx, userID)
}

// IsUserActive reports whether the user is cached and active. Cache misses
// and lookup failures both answer false: absent state is never authorized.
func (uc *UserStateUseCase) IsUserActive(ctx context.Context, userID uuid.UUID) bool {
	state, err := uc.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrStateNotFound) {
			uc.logger.Error("failed to check user active status",
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
		}
		return false
	}
	return state.IsActive()
}

// HasRole reports whether the cached user holds the role.
func (uc *UserStateUseCase) HasRole(ctx context.Context, userID uuid.UUID, role string) bool {
	state, err := uc.repo.Get(ctx, userID)
	if err != nil {
		return false
	}
	return state.IsActive() && state.HasRole(role)
}

// ValidateRefreshToken reports whether the token matches the cached one.
func (uc *UserStateUseCase) ValidateRefreshToken(ctx context.Context, userID uuid.UUID, token string) bool {
	state, err := uc.repo.Get(ctx, userID)
	if err != nil {
		return false
	}
	return state.IsRefreshTokenValid(token, uc.now())
}

// ListActiveUsers returns every cached user currently active.
func (uc *UserStateUseCase) ListActiveUsers(ctx context.Context) ([]*domain.UserState, error) {
	states, err := uc.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*domain.UserState, 0, len(states))
	for _, state := range states {
		if state.IsActive() {
			active = append(active, state)
		}
	}
	return active, nil
}

// CleanupStaleStates removes entries that no longer represent a live session:
// the refresh token is absent or expired and the entry has not been updated
// within maxAge. It returns the number of entries removed.
func (uc *UserStateUseCase) CleanupStaleStates(ctx context.Context, maxAge time.Duration) (int, error) {
	states, err := uc.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := uc.now()
	removed := 0
	for _, state := range states {
		if !uc.isStale(state, now, maxAge) {
			continue
		}
		if err := uc.repo.Delete(ctx, state.UserID); err != nil {
			return removed, err
		}
		removed++
		uc.logger.Info("removed stale user state",
			slog.String("user_id", state.UserID.String()),
			slog.Time("cache_updated_at", state.CacheUpdatedAt),
		)
	}

	uc.metrics.RecordOperation(ctx, "userstate", "cleanup", "success")
	return removed, nil
}

func (uc *UserStateUseCase) isStale(state *domain.UserState, now time.Time, maxAge time.Duration) bool {
	if now.Sub(state.CacheUpdatedAt) < maxAge {
		return false
	}
	hasValidToken := state.RefreshToken != nil &&
		state.RefreshTokenExpiryTime != nil &&
		state.RefreshTokenExpiryTime.After(now)
	return !hasValidToken
}

// onUserLoggedIn writes the full snapshot carried by the login event. This is
// the only handler allowed to create an entry; all others modify or delete.
func (uc *UserStateUseCase) onUserLoggedIn(ctx context.Context, event any) error {
	loggedIn, ok := event.(*domain.UserLoggedIn)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	state := &domain.UserState{
		UserID:                 loggedIn.UserID,
		Email:                  loggedIn.Email,
		Roles:                  loggedIn.Roles,
		Status:                 loggedIn.Status,
		RefreshTokenExpiryTime: loggedIn.RefreshTokenExpiryTime,
		LastLoginAt:            loggedIn.LoginAt,
	}
	if loggedIn.RefreshToken != "" {
		token := loggedIn.RefreshToken
		state.RefreshToken = &token
	}
	state.Touch(uc.now())

	if err := uc.repo.Set(ctx, state); err != nil {
		return err
	}

	uc.logger.Info("user state cached on login", slog.String("user_id", loggedIn.UserID.String()))
	uc.metrics.RecordOperation(ctx, "userstate", "login", "success")
	return nil
}

func (uc *UserStateUseCase) onUserLoggedOut(ctx context.Context, event any) error {
	loggedOut, ok := event.(*domain.UserLoggedOut)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	if err := uc.repo.Delete(ctx, loggedOut.UserID); err != nil {
		return err
	}

	uc.logger.Info("user state removed on logout", slog.String("user_id", loggedOut.UserID.String()))
	uc.metrics.RecordOperation(ctx, "userstate", "logout", "success")
	return nil
}

func (uc *UserStateUseCase) onUserRolesChanged(ctx context.Context, event any) error {
	changed, ok := event.(*domain.UserRolesChanged)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	return uc.modify(ctx, changed.UserID, "roles_changed", func(state *domain.UserState) {
		state.Roles = changed.NewRoles
	})
}

func (uc *UserStateUseCase) onUserStatusChanged(ctx context.Context, event any) error {
	changed, ok := event.(*domain.UserStatusChanged)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	return uc.modify(ctx, changed.UserID, "status_changed", func(state *domain.UserState) {
		state.Status = changed.NewStatus
	})
}

func (uc *UserStateUseCase) onRefreshTokenRevoked(ctx context.Context, event any) error {
	revoked, ok := event.(*domain.RefreshTokenRevoked)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	return uc.modify(ctx, revoked.UserID, "token_revoked", func(state *domain.UserState) {
		state.RevokeRefreshToken()
	})
}

func (uc *UserStateUseCase) onSubscriptionChanged(ctx context.Context, event any) error {
	changed, ok := event.(*domain.SubscriptionChanged)
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "unexpected event payload type")
	}

	return uc.modify(ctx, changed.UserID, "subscription_changed", func(state *domain.UserState) {
		state.Subscription = changed.Subscription
	})
}

// modify performs a read-modify-write on one entry. A blind overwrite would
// erase fields owned by other events, so every partial update goes through
// here. An event for a user with no cached entry is dropped: the user is not
// logged in anywhere, and the next login snapshot will carry current data.
func (uc *UserStateUseCase) modify(
	ctx context.Context,
	userID uuid.UUID,
	operation string,
	apply func(state *domain.UserState),
) error {
	state, err := uc.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			uc.logger.Debug("event for uncached user dropped",
				slog.String("user_id", userID.String()),
				slog.String("operation", operation),
			)
			return nil
		}
		return err
	}

	apply(state)
	state.Touch(uc.now())

	if err := uc.repo.Set(ctx, state); err != nil {
		return err
	}

	uc.metrics.RecordOperation(ctx, "userstate", operation, "success")
	return nil
}
