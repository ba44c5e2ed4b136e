package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/redis/go-redis/v9"
)

// List returns every bookmark of ownerID, newest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, OwnerIndexKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreRead, "failed to list bookmark IDs", err)
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreRead, "failed to load bookmarks", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record: deleted between ZREVRANGE and MGET
			continue
		}
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, domain.WrapError(domain.CodeStoreRead,
				fmt.Sprintf("failed to unmarshal bookmark %s", ids[i]), err)
		}
		bookmarks = append(bookmarks, b)
	}

	return bookmarks, nil
}

// Get retrieves a bookmark by ID
func (s *Store) Get(ctx context.Context, id string) (*domain.Bookmark, error) {
	data, err := s.client.Get(ctx, BookmarkKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewError(domain.CodeNotFound, "bookmark not found: "+id, nil)
		}
		return nil, domain.WrapError(domain.CodeStoreRead, "failed to get bookmark", err)
	}

	var b domain.Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, domain.WrapError(domain.CodeStoreRead, "failed to unmarshal bookmark", err)
	}
	return &b, nil
}

// Insert stores a new bookmark and publishes its INSERT event atomically.
func (s *Store) Insert(ctx context.Context, draft domain.Draft) (*domain.Bookmark, error) {
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if draft.OwnerID == "" {
		return nil, domain.NewError(domain.CodeValidation, "owner cannot be empty", nil)
	}

	b := &domain.Bookmark{
		ID:        s.newID(),
		OwnerID:   draft.OwnerID,
		Title:     draft.Title,
		URL:       draft.URL,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreWrite, "failed to marshal bookmark", err)
	}
	event, err := s.encodeChange(domain.ChangeInsert, b)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		pipe.ZAdd(ctx, OwnerIndexKey(b.OwnerID), redis.Z{
			Score:  float64(b.CreatedAt.UnixMicro()),
			Member: b.ID,
		})
		publishChange(ctx, pipe, b.OwnerID, event)
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreWrite, "failed to save bookmark", err)
	}

	return b, nil
}

// deleteRetries bounds the WATCH retries of a contended Delete.
const deleteRetries = 3

// Delete removes the bookmark id of ownerID and publishes its DELETE event
// atomically. Unknown IDs and IDs owned by another user are a no-op, so a
// caller cannot tell them apart. Only the delete that removes the record
// publishes an event.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	key := BookmarkKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return domain.WrapError(domain.CodeStoreRead, "failed to get bookmark", err)
		}

		var old domain.Bookmark
		if err := json.Unmarshal(data, &old); err != nil {
			return domain.WrapError(domain.CodeStoreRead, "failed to unmarshal bookmark", err)
		}
		if old.OwnerID != ownerID {
			return nil
		}

		event, err := s.encodeChange(domain.ChangeDelete, &old)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, OwnerIndexKey(old.OwnerID), id)
			publishChange(ctx, pipe, old.OwnerID, event)
			return nil
		})
		return err
	}

	for i := 0; i < deleteRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// The record changed under us, read it again
			continue
		}
		if err != nil {
			var derr *domain.Error
			if errors.As(err, &derr) {
				return err
			}
			return domain.WrapError(domain.CodeStoreWrite, "failed to delete bookmark", err)
		}
		return nil
	}
	return domain.NewError(domain.CodeStoreWrite, "failed to delete bookmark: too much contention", nil)
}

func (s *Store) encodeChange(t domain.ChangeType, b *domain.Bookmark) ([]byte, error) {
	ev := domain.ChangeEvent{
		Type:     t,
		Table:    domain.TableBookmarks,
		Record:   b,
		CommitAt: s.now().UTC(),
	}
	if t == domain.ChangeDelete {
		ev.OldID = b.ID
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreWrite, "failed to marshal change event", err)
	}
	return data, nil
}

// publishChange queues the event on the table-wide and the owner channel.
func publishChange(ctx context.Context, pipe redis.Pipeliner, ownerID string, event []byte) {
	pipe.Publish(ctx, ChangesChannel(domain.TableBookmarks, ""), event)
	pipe.Publish(ctx, ChangesChannel(domain.TableBookmarks, ownerID), event)
}
