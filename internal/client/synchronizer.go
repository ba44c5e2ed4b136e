package client

import (
	"sort"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// activate opens the change feed of the signed-in user. The first refresh
// is issued once the subscription is confirmed.
func (c *Client) activate() {
	c.gen++
	gen := c.gen
	owner := c.session.UserID
	c.loading = true

	go func() {
		sub, err := c.store.Subscribe(c.ctx, domain.ChangeFilter{
			Table:   domain.TableBookmarks,
			OwnerID: owner,
			Mask:    domain.MaskAll,
		}, func(ev domain.ChangeEvent) {
			c.post(func() { c.onRemoteChange(gen, ev) })
		})
		if !c.post(func() { c.subscribed(gen, sub, err) }) && sub != nil {
			_ = sub.Close()
		}
	}()
}

func (c *Client) subscribed(gen uint64, sub domain.Subscription, err error) {
	if gen != c.gen || c.stopped {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		// Still load the collection. It will only refresh on demand.
		c.logger.Warn("change feed subscription failed", logger.Error(err))
	} else {
		c.feed = sub
	}
	c.requestRefresh()
}

// teardown stops synchronization and forgets the collection. Completions of
// the previous generation are discarded from now on.
func (c *Client) teardown() {
	c.gen++
	c.disarmExpiry()
	if c.feed != nil {
		if err := c.feed.Close(); err != nil {
			c.logger.Warn("failed to close change feed", logger.Error(err))
		}
		c.feed = nil
	}
	c.refreshing = false
	c.refreshPending = false
	c.loading = false
	c.bookmarks = nil
}

func (c *Client) onRemoteChange(gen uint64, ev domain.ChangeEvent) {
	if gen != c.gen {
		return
	}
	c.logger.Debug("remote change",
		logger.String("type", string(ev.Type)),
		logger.String("id", changeID(ev)))
	c.requestRefresh()
}

// requestRefresh lists the collection again. While a refresh is in flight
// further requests collapse into one follow-up refresh.
func (c *Client) requestRefresh() {
	if c.session == nil {
		return
	}
	if c.refreshing {
		c.refreshPending = true
		return
	}

	c.refreshing = true
	c.loading = true
	gen := c.gen
	owner := c.session.UserID
	c.changed()

	go func() {
		list, err := c.store.List(c.ctx, owner)
		c.post(func() { c.refreshed(gen, list, err) })
	}()
}

func (c *Client) refreshed(gen uint64, list []domain.Bookmark, err error) {
	if gen != c.gen {
		return
	}
	c.refreshing = false

	if err != nil {
		c.logger.Warn("failed to list bookmarks", logger.Error(err))
	} else {
		sortNewestFirst(list)
		c.bookmarks = list
	}

	if c.refreshPending {
		c.refreshPending = false
		c.requestRefresh()
		return
	}
	c.loading = false
	c.changed()
}

func (c *Client) add(title, url string) error {
	if c.session == nil {
		return domain.NewError(domain.CodeAuth, "not signed in", nil)
	}

	draft := domain.Draft{Title: title, URL: url, OwnerID: c.session.UserID}.Normalize()
	if err := draft.Validate(); err != nil {
		return err
	}

	tmp := domain.Bookmark{
		ID:          domain.ProvisionalPrefix + c.newID(),
		OwnerID:     draft.OwnerID,
		Title:       draft.Title,
		URL:         draft.URL,
		CreatedAt:   c.now().UTC(),
		Provisional: true,
	}
	c.bookmarks = append([]domain.Bookmark{tmp}, c.bookmarks...)
	c.form = domain.Form{}
	c.changed()

	gen := c.gen
	go func() {
		rec, err := c.store.Insert(c.ctx, draft)
		c.post(func() { c.inserted(gen, tmp.ID, rec, err) })
	}()
	return nil
}

func (c *Client) inserted(gen uint64, tmpID string, rec *domain.Bookmark, err error) {
	if err != nil {
		delete(c.pendingDeletes, tmpID)
		// The provisional entry stays until the next refresh.
		c.logger.Warn("failed to insert bookmark", logger.Error(err))
		return
	}

	if c.pendingDeletes[tmpID] {
		delete(c.pendingDeletes, tmpID)
		if gen == c.gen && c.removeLocal(rec.ID) {
			c.changed()
		}
		c.deleteRemote(rec.OwnerID, rec.ID)
		return
	}

	if gen != c.gen {
		return
	}
	idx := c.indexOf(tmpID)
	if idx < 0 {
		// Superseded by a refresh.
		return
	}
	if c.indexOf(rec.ID) >= 0 {
		c.bookmarks = append(c.bookmarks[:idx], c.bookmarks[idx+1:]...)
	} else {
		c.bookmarks[idx] = *rec
	}
	c.changed()
}

func (c *Client) delete(id string) error {
	if c.session == nil {
		return domain.NewError(domain.CodeAuth, "not signed in", nil)
	}

	if domain.IsProvisionalID(id) {
		if c.removeLocal(id) {
			c.pendingDeletes[id] = true
			c.changed()
		}
		return nil
	}

	if c.removeLocal(id) {
		c.changed()
	}
	c.deleteRemote(c.session.UserID, id)
	return nil
}

// deleteRemote issues the store delete on behalf of ownerID. The store
// ignores IDs owned by anyone else.
func (c *Client) deleteRemote(ownerID, id string) {
	go func() {
		if err := c.store.Delete(c.ctx, ownerID, id); err != nil {
			c.logger.Warn("failed to delete bookmark",
				logger.String("id", id),
				logger.Error(err))
		}
	}()
}

func (c *Client) removeLocal(id string) bool {
	idx := c.indexOf(id)
	if idx < 0 {
		return false
	}
	c.bookmarks = append(c.bookmarks[:idx], c.bookmarks[idx+1:]...)
	return true
}

func (c *Client) indexOf(id string) int {
	for i := range c.bookmarks {
		if c.bookmarks[i].ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(list []domain.Bookmark) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func changeID(ev domain.ChangeEvent) string {
	if ev.Record != nil {
		return ev.Record.ID
	}
	return ev.OldID
}
