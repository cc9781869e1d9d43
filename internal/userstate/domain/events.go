package domain

import (
	"time"

	"github.com/google/uuid"

	eventdomain "github.com/allisson/relay/internal/eventbus/domain"
)

// Event type names for authorization-relevant events.
const (
	EventUserLoggedIn        = "UserLoggedIn"
	EventUserLoggedOut       = "UserLoggedOut"
	EventUserRolesChanged    = "UserRolesChanged"
	EventUserStatusChanged   = "UserStatusChanged"
	EventRefreshTokenRevoked = "RefreshTokenRevoked"
	EventSubscriptionChanged = "SubscriptionChanged"
)

// UserLoggedIn carries the full authorization snapshot taken at login. It is
// the only event allowed to create a cache entry.
type UserLoggedIn struct {
	eventdomain.IntegrationEvent
	UserID                 uuid.UUID  `json:"user_id"`
	Email                  string     `json:"email"`
	Roles                  []string   `json:"roles"`
	Status                 Status     `json:"status"`
	RefreshToken           string     `json:"refresh_token"`
	RefreshTokenExpiryTime *time.Time `json:"refresh_token_expiry_time,omitempty"`
	LoginAt                time.Time  `json:"login_at"`
}

func (UserLoggedIn) EventName() string { return EventUserLoggedIn }

// UserLoggedOut removes the user's cached state entirely.
type UserLoggedOut struct {
	eventdomain.IntegrationEvent
	UserID   uuid.UUID `json:"user_id"`
	LogoutAt time.Time `json:"logout_at"`
}

func (UserLoggedOut) EventName() string { return EventUserLoggedOut }

// UserRolesChanged replaces the user's cached role list.
type UserRolesChanged struct {
	eventdomain.IntegrationEvent
	UserID   uuid.UUID `json:"user_id"`
	NewRoles []string  `json:"new_roles"`
}

func (UserRolesChanged) EventName() string { return EventUserRolesChanged }

// UserStatusChanged replaces the user's cached lifecycle status.
type UserStatusChanged struct {
	eventdomain.IntegrationEvent
	UserID    uuid.UUID `json:"user_id"`
	NewStatus Status    `json:"new_status"`
}

func (UserStatusChanged) EventName() string { return EventUserStatusChanged }

// RefreshTokenRevoked clears the cached refresh token without logging the
// user out.
type RefreshTokenRevoked struct {
	eventdomain.IntegrationEvent
	UserID    uuid.UUID `json:"user_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

func (RefreshTokenRevoked) EventName() string { return EventRefreshTokenRevoked }

// SubscriptionChanged replaces the user's cached subscription snapshot. A nil
// Subscription means the user has no subscription anymore.
type SubscriptionChanged struct {
	eventdomain.IntegrationEvent
	UserID       uuid.UUID         `json:"user_id"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
}

func (SubscriptionChanged) EventName() string { return EventSubscriptionChanged }
