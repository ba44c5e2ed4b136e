package client

import (
	"context"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

func (c *Client) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post queues fn for the loop. It reports false once the client is closed.
// Never call it from the loop itself.
func (c *Client) post(fn func()) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// exec runs fn on the loop and waits for it.
func (c *Client) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var stopped bool

	ok := c.post(func() {
		defer close(done)
		if c.stopped {
			stopped = true
			return
		}
		fn()
	})
	if !ok {
		return domain.ErrClosed
	}

	select {
	case <-done:
		if stopped {
			return domain.ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs what was queued before the loop stopped, so that late
// subscriptions get closed. Called by Close once the loop has exited.
func (c *Client) drain() {
	for {
		select {
		case fn := <-c.events:
			fn()
		default:
			return
		}
	}
}

// changed bumps the version and wakes up watchers.
func (c *Client) changed() {
	c.version++

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) closeWatchers() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.watchClosed = true
}
