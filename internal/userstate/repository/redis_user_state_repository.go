// Package repository provides the Redis persistence for cached user state.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/userstate/domain"
)

// RedisUserStateRepository stores one JSON value per user under
// "<prefix><userID>". Entries have no TTL: the cache is maintained by events
// (login creates, logout deletes), not by expiry, so an entry disappearing
// mid-session would wrongly deauthorize an active user.
type RedisUserStateRepository struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisUserStateRepository creates a new RedisUserStateRepository
func NewRedisUserStateRepository(client redis.Cmdable, keyPrefix string) *RedisUserStateRepository {
	return &RedisUserStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a user's cached state
func (r *RedisUserStateRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UserState, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrStateNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get user state")
	}

	var state domain.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode user state")
	}
	return &state, nil
}

// Set stores a user's cached state
func (r *RedisUserStateRepository) Set(ctx context.Context, state *domain.UserState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode user state")
	}

	if err := r.client.Set(ctx, r.key(state.UserID), data, 0).Err(); err != nil {
		return apperrors.Wrap(err, "failed to set user state")
	}
	return nil
}

// Delete removes a user's cached state. Deleting a missing entry is a no-op.
func (r *RedisUserStateRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return apperrors.Wrap(err, "failed to delete user state")
	}
	return nil
}

// List returns all cached user states, scanning incrementally to avoid
// blocking the server on large keyspaces.
func (r *RedisUserStateRepository) List(ctx context.Context) ([]*domain.UserState, error) {
	var states []*domain.UserState

	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Deleted between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, apperrors.Wrap(err, "failed to get user state")
		}

		var state domain.UserState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode user state")
		}
		states = append(states, &state)
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to scan user states")
	}

	return states, nil
}

func (r *RedisUserStateRepository) key(userID uuid.UUID) string {
	return r.keyPrefix + userID.String()
}
