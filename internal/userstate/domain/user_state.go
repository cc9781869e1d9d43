// Package domain defines the cached authorization state replicated across
// services. The cache is maintained purely by reacting to events; no service
// makes a synchronous cross-service lookup to authorize a request.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/allisson/relay/internal/errors"
)

// ErrStateNotFound is returned when no cached state exists for a user. A
// missing entry means "not authorized", never "assume something".
var ErrStateNotFound = apperrors.Wrap(apperrors.ErrNotFound, "user state not found")

// Status is the user's lifecycle status as replicated from the auth service.
type Status string

const (
	StatusActive    Status = "Active"
	StatusInactive  Status = "Inactive"
	StatusSuspended Status = "Suspended"
	StatusDeleted   Status = "Deleted"
)

// SubscriptionInfo is the user's current subscription as replicated from the
// subscription service.
type SubscriptionInfo struct {
	PlanID      uuid.UUID `json:"plan_id"`
	PlanName    string    `json:"plan_name"`
	Status      string    `json:"status"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// IsActive reports whether the subscription currently grants access.
func (s *SubscriptionInfo) IsActive(now time.Time) bool {
	return s.Status == "Active" && now.Before(s.PeriodEnd)
}

// UserState is one user's cached authorization state, stored as a JSON value
// per user id. Updates are read-modify-write: handlers load the entry, change
// only the fields their event owns, and write it back, so concurrent handlers
// for different concerns do not erase each other's fields.
type UserState struct {
	UserID                 uuid.UUID         `json:"user_id"`
	Email                  string            `json:"email"`
	Roles                  []string          `json:"roles"`
	Status                 Status            `json:"status"`
	RefreshToken           *string           `json:"refresh_token,omitempty"`
	RefreshTokenExpiryTime *time.Time        `json:"refresh_token_expiry_time,omitempty"`
	LastLoginAt            time.Time         `json:"last_login_at"`
	Subscription           *SubscriptionInfo `json:"subscription,omitempty"`
	CacheUpdatedAt         time.Time         `json:"cache_updated_at"`
}

// IsActive reports whether the user may act at all.
func (s *UserState) IsActive() bool {
	return s.Status == StatusActive
}

// HasRole reports whether the user holds the role, case-insensitively.
func (s *UserState) HasRole(role string) bool {
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsRefreshTokenValid reports whether the cached refresh token matches and is
// not expired.
func (s *UserState) IsRefreshTokenValid(token string, now time.Time) bool {
	return s.RefreshToken != nil && *s.RefreshToken == token &&
		s.RefreshTokenExpiryTime != nil && s.RefreshTokenExpiryTime.After(now)
}

// HasActiveSubscription reports whether an active subscription is on file.
func (s *UserState) HasActiveSubscription(now time.Time) bool {
	return s.Subscription != nil && s.Subscription.IsActive(now)
}

// RevokeRefreshToken clears the cached refresh token.
func (s *UserState) RevokeRefreshToken() {
	s.RefreshToken = nil
	s.RefreshTokenExpiryTime = nil
}

// Touch stamps the entry with its last cache update time.
func (s *UserState) Touch(now time.Time) {
	s.CacheUpdatedAt = now
}
