// Package client keeps the bookmark collection of one device in sync with the
// record store.
//
// A Client owns the session, the bookmark collection, the pending form and
// the loading flag of its device. All of that state is mutated on a single
// event-loop goroutine; remote calls run on helper goroutines and post their
// completion back to the loop, where results from a superseded generation are
// discarded.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// IdentityProvider is what the client needs from the identity layer.
type IdentityProvider interface {
	CurrentSession(ctx context.Context, device string) (*domain.Session, error)
	OnSessionChange(ctx context.Context, device string, fn func(domain.SessionEvent)) (domain.Subscription, error)
	SignInWithProvider(ctx context.Context, device, provider string) (string, error)
	SignOut(ctx context.Context, device string) error
}

// RecordStore is what the client needs from the bookmark store.
type RecordStore interface {
	List(ctx context.Context, ownerID string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, draft domain.Draft) (*domain.Bookmark, error)
	// Delete removes id when it belongs to ownerID. Other IDs are a no-op.
	Delete(ctx context.Context, ownerID, id string) error
	Subscribe(ctx context.Context, filter domain.ChangeFilter, fn func(domain.ChangeEvent)) (domain.Subscription, error)
}

const eventQueueSize = 64

// Option customizes a Client.
type Option func(*Client)

// WithClock sets the clock used to timestamp provisional entries and to
// compute session expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// AfterFunc runs fn once d has elapsed and returns a function that cancels
// it. time.AfterFunc(d, fn).Stop is the default.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

// WithAfterFunc sets the timer used for session expiry.
func WithAfterFunc(after AfterFunc) Option {
	return func(c *Client) { c.after = after }
}

func realAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// WithIDGenerator sets the generator of provisional identifiers.
func WithIDGenerator(newID func() string) Option {
	return func(c *Client) { c.newID = newID }
}

// Client is the bookmark sync client of one device.
type Client struct {
	device   string
	identity IdentityProvider
	store    RecordStore
	logger   logger.Logger
	now      func() time.Time
	after    AfterFunc
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	events   chan func()
	quit     chan struct{}
	loopDone chan struct{}

	postMu sync.RWMutex
	closed bool

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once

	watchMu     sync.Mutex
	watchers    map[int]chan struct{}
	nextWatch   int
	watchClosed bool

	// ─────────────────────────────
	// Loop-owned state
	// ─────────────────────────────

	stopped       bool
	state         domain.AuthState
	session       *domain.Session
	initialLoaded bool
	authSub       domain.Subscription

	// expiryGen identifies the armed expiry timer; stopExpiry cancels it.
	expiryGen  uint64
	stopExpiry func() bool

	bookmarks []domain.Bookmark
	form      domain.Form
	loading   bool
	version   uint64

	gen            uint64
	feed           domain.Subscription
	refreshing     bool
	refreshPending bool

	// pendingDeletes holds provisional IDs deleted before their insert
	// was confirmed.
	pendingDeletes map[string]bool
}

// New creates the client of device and starts its event loop.
// Call Start to begin tracking the session.
func New(device string, identity IdentityProvider, store RecordStore, log logger.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		device:         device,
		identity:       identity,
		store:          store,
		logger:         log.With(logger.String("device", device)),
		now:            time.Now,
		after:          realAfterFunc,
		newID:          uuid.NewString,
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan func(), eventQueueSize),
		quit:           make(chan struct{}),
		loopDone:       make(chan struct{}),
		watchers:       make(map[int]chan struct{}),
		state:          domain.AuthUnknown,
		pendingDeletes: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.loop()
	return c
}

// Device returns the device the client belongs to.
func (c *Client) Device() string { return c.device }

// Start subscribes to the session stream of the device and restores the
// current session. The subscription is confirmed before the restore is
// issued so no transition can be missed.
func (c *Client) Start() error {
	c.startOnce.Do(func() {
		sub, err := c.identity.OnSessionChange(c.ctx, c.device, func(ev domain.SessionEvent) {
			c.post(func() { c.onSessionChanged(ev) })
		})
		if err != nil {
			c.startErr = err
			return
		}

		err = c.exec(context.Background(), func() {
			c.authSub = sub
			c.restoreSession()
		})
		if err != nil {
			_ = sub.Close()
			c.startErr = err
		}
	})
	return c.startErr
}

// Close stops synchronization, closes both subscriptions and the event loop.
// Completions that arrive afterwards are dropped. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.exec(context.Background(), func() {
			c.teardown()
			if c.authSub != nil {
				if err := c.authSub.Close(); err != nil {
					c.logger.Warn("failed to close session stream", logger.Error(err))
				}
				c.authSub = nil
			}
			c.stopped = true
		})
		c.cancel()

		c.postMu.Lock()
		c.closed = true
		close(c.quit)
		c.postMu.Unlock()

		<-c.loopDone
		c.drain()
		c.closeWatchers()

		c.logger.Debug("client closed")
	})
	return nil
}

// Snapshot is a copy of the client state for rendering.
type Snapshot struct {
	Device  string           `json:"-"`
	State   domain.AuthState `json:"state"`
	Session *domain.Session  `json:"session"`

	// InitialLoaded turns true once the first session check completed.
	InitialLoaded bool              `json:"initial_loaded"`
	Bookmarks     []domain.Bookmark `json:"bookmarks"`
	Form          domain.Form       `json:"form"`
	Loading       bool              `json:"loading"`

	// Version increases on every state change.
	Version uint64 `json:"version"`
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.exec(ctx, func() {
		s = Snapshot{
			Device:        c.device,
			State:         c.state,
			InitialLoaded: c.initialLoaded,
			Bookmarks:     append([]domain.Bookmark{}, c.bookmarks...),
			Form:          c.form,
			Loading:       c.loading,
			Version:       c.version,
		}
		if c.session != nil {
			cp := *c.session
			s.Session = &cp
		}
	})
	return s, err
}

// Watch returns a channel that receives a value after state changes, and a
// function to stop watching. Notifications are coalesced. The channel is
// closed when the client closes.
func (c *Client) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watchClosed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch

	return ch, func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		delete(c.watchers, id)
	}
}

// SetForm replaces the pending form fields.
func (c *Client) SetForm(ctx context.Context, form domain.Form) error {
	return c.exec(ctx, func() {
		c.form = form
		c.changed()
	})
}

// SignIn starts a federated sign-in and returns the redirect URL.
// The session is unchanged until the identity provider reports the sign-in.
func (c *Client) SignIn(ctx context.Context, provider string) (string, error) {
	if c.ctx.Err() != nil {
		return "", domain.ErrClosed
	}
	return c.identity.SignInWithProvider(ctx, c.device, provider)
}

// SignOut terminates the session and waits until the resulting session
// event has been applied.
func (c *Client) SignOut(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return domain.ErrClosed
	}

	notify, stop := c.Watch()
	defer stop()

	if err := c.identity.SignOut(ctx, c.device); err != nil {
		return err
	}

	for {
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.State != domain.AuthSignedIn {
			return nil
		}

		select {
		case _, ok := <-notify:
			if !ok {
				return domain.ErrClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Add validates and optimistically inserts a bookmark. The store insert is
// issued in the background.
func (c *Client) Add(ctx context.Context, title, url string) error {
	var err error
	if e := c.exec(ctx, func() { err = c.add(title, url) }); e != nil {
		return e
	}
	return err
}

// Submit adds the bookmark held by the form.
func (c *Client) Submit(ctx context.Context) error {
	var err error
	if e := c.exec(ctx, func() { err = c.add(c.form.Title, c.form.URL) }); e != nil {
		return e
	}
	return err
}

// Delete removes a bookmark locally and issues the store delete.
func (c *Client) Delete(ctx context.Context, id string) error {
	var err error
	if e := c.exec(ctx, func() { err = c.delete(id) }); e != nil {
		return e
	}
	return err
}

// Refresh refetches the whole collection of the signed-in user.
func (c *Client) Refresh(ctx context.Context) error {
	var err error
	e := c.exec(ctx, func() {
		if c.session == nil {
			err = domain.NewError(domain.CodeAuth, "not signed in", nil)
			return
		}
		c.requestRefresh()
	})
	if e != nil {
		return e
	}
	return err
}
