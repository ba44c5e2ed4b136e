package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/redis/go-redis/v9"
)

// feed is a live Pub/Sub subscription.
type feed struct {
	ps   *redis.PubSub
	once sync.Once
	err  error
}

// Close unsubscribes. It does not wait for an in-progress callback.
func (f *feed) Close() error {
	f.once.Do(func() { f.err = f.ps.Close() })
	return f.err
}

// subscribe opens channel, waits for the server confirmation and then
// delivers every payload to fn on a dedicated goroutine.
func (s *Store) subscribe(ctx context.Context, channel string, fn func(payload string)) (*feed, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			fn(msg.Payload)
		}
	}()

	return &feed{ps: ps}, nil
}

// Subscribe delivers change events matching filter to fn until the returned
// subscription is closed. Malformed payloads are dropped.
func (s *Store) Subscribe(ctx context.Context, filter domain.ChangeFilter, fn func(domain.ChangeEvent)) (domain.Subscription, error) {
	if filter.Table == "" {
		filter.Table = domain.TableBookmarks
	}

	f, err := s.subscribe(ctx, ChangesChannel(filter.Table, filter.OwnerID), func(payload string) {
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return
		}
		if filter.Match(ev) {
			fn(ev)
		}
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreRead, "failed to subscribe to changes", err)
	}
	return f, nil
}
