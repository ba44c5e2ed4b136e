package client

import (
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// restoreSession asks the identity provider for the current session.
func (c *Client) restoreSession() {
	go func() {
		s, err := c.identity.CurrentSession(c.ctx, c.device)
		c.post(func() { c.restored(s, err) })
	}()
}

func (c *Client) restored(s *domain.Session, err error) {
	if c.stopped {
		return
	}
	if err != nil {
		c.logger.Warn("session restore failed, treating as signed out", logger.Error(err))
		s = nil
	}

	c.initialLoaded = true

	// A session event delivered before the restore completed is newer.
	if c.state != domain.AuthUnknown {
		c.changed()
		return
	}
	c.applySession(s)
}

func (c *Client) onSessionChanged(ev domain.SessionEvent) {
	if c.stopped {
		return
	}

	switch ev.Type {
	case domain.SessionSignedOut:
		c.applySession(nil)
	case domain.SessionSignedIn, domain.SessionTokenRefreshed:
		if ev.Session == nil {
			c.logger.Warn("session event without session", logger.String("type", string(ev.Type)))
			return
		}
		c.applySession(ev.Session)
	default:
		c.logger.Warn("unknown session event", logger.String("type", string(ev.Type)))
	}
}

// applySession is the only place that moves the auth state machine. It
// starts synchronization when a user signs in and tears it down when the
// user signs out or changes.
func (c *Client) applySession(s *domain.Session) {
	if s != nil && c.isExpired(s) {
		c.logger.Info("ignoring expired session", logger.String("user_id", s.UserID))
		s = nil
	}

	prev := c.session
	c.session = s

	if s == nil {
		c.state = domain.AuthSignedOut
		c.disarmExpiry()
		if prev != nil {
			c.logger.Info("signed out", logger.String("user_id", prev.UserID))
			c.teardown()
			c.form = domain.Form{}
		}
		c.changed()
		return
	}

	c.state = domain.AuthSignedIn
	if prev == nil || prev.UserID != s.UserID {
		c.logger.Info("signed in", logger.String("user_id", s.UserID))
		c.teardown()
		c.activate()
	}
	c.armExpiry(s)
	c.changed()
}

func (c *Client) isExpired(s *domain.Session) bool {
	return !s.ExpiresAt.IsZero() && !c.now().Before(s.ExpiresAt)
}

// armExpiry signs the client out once s expires. It replaces the timer of
// the previous session, so a refreshed token extends the deadline.
func (c *Client) armExpiry(s *domain.Session) {
	c.disarmExpiry()
	if s.ExpiresAt.IsZero() {
		return
	}

	gen := c.expiryGen
	c.stopExpiry = c.after(s.ExpiresAt.Sub(c.now()), func() {
		c.post(func() { c.expired(gen) })
	})
}

func (c *Client) disarmExpiry() {
	c.expiryGen++
	if c.stopExpiry != nil {
		c.stopExpiry()
		c.stopExpiry = nil
	}
}

func (c *Client) expired(gen uint64) {
	if gen != c.expiryGen || c.stopped || c.session == nil {
		return
	}
	c.stopExpiry = nil
	c.logger.Info("session expired", logger.String("user_id", c.session.UserID))
	c.applySession(nil)
}
