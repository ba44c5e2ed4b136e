package redis

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SaveSessionToken stores the session token of a device until ttl elapses.
func (s *Store) SaveSessionToken(ctx context.Context, device, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, SessionKey(device), token, ttl).Err(); err != nil {
		return domain.WrapError(domain.CodeAuth, "failed to save session", err)
	}
	return nil
}

// SessionToken returns the stored token of a device, or "" when there is none.
func (s *Store) SessionToken(ctx context.Context, device string) (string, error) {
	token, err := s.client.Get(ctx, SessionKey(device)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", domain.WrapError(domain.CodeAuth, "failed to load session", err)
	}
	return token, nil
}

// DeleteSessionToken forgets the session of a device.
func (s *Store) DeleteSessionToken(ctx context.Context, device string) error {
	if err := s.client.Del(ctx, SessionKey(device)).Err(); err != nil {
		return domain.WrapError(domain.CodeAuth, "failed to delete session", err)
	}
	return nil
}

// SaveLoginState keeps a pending sign-in payload under state.
func (s *Store) SaveLoginState(ctx context.Context, state string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, LoginKey(state), data, ttl).Err(); err != nil {
		return domain.WrapError(domain.CodeAuth, "failed to save login state", err)
	}
	return nil
}

// TakeLoginState returns and removes a pending sign-in payload.
// A state can only be taken once.
func (s *Store) TakeLoginState(ctx context.Context, state string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, LoginKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewError(domain.CodeAuth, "unknown or expired login state", nil)
		}
		return nil, domain.WrapError(domain.CodeAuth, "failed to load login state", err)
	}
	return data, nil
}

// PublishSessionEvent notifies every subscriber of device.
func (s *Store) PublishSessionEvent(ctx context.Context, device string, payload []byte) error {
	if err := s.client.Publish(ctx, AuthEventsChannel(device), payload).Err(); err != nil {
		return domain.WrapError(domain.CodeAuth, "failed to publish session event", err)
	}
	return nil
}

// SubscribeSessionEvents delivers raw session-event payloads of device to fn.
func (s *Store) SubscribeSessionEvents(ctx context.Context, device string, fn func(payload []byte)) (domain.Subscription, error) {
	f, err := s.subscribe(ctx, AuthEventsChannel(device), func(payload string) {
		fn([]byte(payload))
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to subscribe to session events", err)
	}
	return f, nil
}
