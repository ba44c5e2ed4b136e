package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

type fakeSub struct {
	once  sync.Once
	close func()
}

func (s *fakeSub) Close() error {
	s.once.Do(s.close)
	return nil
}

// ─────────────────────────────
// Timers
// ─────────────────────────────

type fakeTimer struct {
	d       time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) fire() { t.fn() }

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeTimers records armed timers; tests fire them by hand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) after(d time.Duration, fn func()) func() bool {
	t := &fakeTimer{d: d, fn: fn}
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// ─────────────────────────────
// Identity
// ─────────────────────────────

type fakeIdentity struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	subs        map[int]func(domain.SessionEvent)
	next        int
	restoreErr  error
	restoreGate chan struct{}
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		sessions: make(map[string]*domain.Session),
		subs:     make(map[int]func(domain.SessionEvent)),
	}
}

func (f *fakeIdentity) CurrentSession(ctx context.Context, device string) (*domain.Session, error) {
	f.mu.Lock()
	gate := f.restoreGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	return f.sessions[device], nil
}

func (f *fakeIdentity) OnSessionChange(_ context.Context, _ string, fn func(domain.SessionEvent)) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return &fakeSub{close: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}}, nil
}

func (f *fakeIdentity) SignInWithProvider(_ context.Context, device, provider string) (string, error) {
	if provider != "dev" {
		return "", domain.NewError(domain.CodeAuth, "unknown provider", nil)
	}
	return "https://idp.test/authorize?device=" + device, nil
}

func (f *fakeIdentity) SignOut(_ context.Context, device string) error {
	f.mu.Lock()
	delete(f.sessions, device)
	f.mu.Unlock()
	f.emit(domain.SessionEvent{Type: domain.SessionSignedOut})
	return nil
}

func (f *fakeIdentity) signIn(device, user string) {
	s := &domain.Session{UserID: user, Email: user + "@example.com", Provider: "dev", Token: "token-" + user}
	f.mu.Lock()
	f.sessions[device] = s
	f.mu.Unlock()
	f.emit(domain.SessionEvent{Type: domain.SessionSignedIn, Session: s})
}

func (f *fakeIdentity) emit(ev domain.SessionEvent) {
	f.mu.Lock()
	fns := make([]func(domain.SessionEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeIdentity) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// ─────────────────────────────
// Record store
// ─────────────────────────────

type fakeFeed struct {
	filter domain.ChangeFilter
	fn     func(domain.ChangeEvent)
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.Bookmark
	base    time.Time
	seq     int

	feeds    map[int]fakeFeed
	nextFeed int

	listCalls  map[string]int
	listGates  map[string]chan struct{}
	insertGate chan struct{}
	insertErr  error
	inserts    int
	deleted    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   make(map[string]domain.Bookmark),
		base:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		feeds:     make(map[int]fakeFeed),
		listCalls: make(map[string]int),
		listGates: make(map[string]chan struct{}),
	}
}

// blockList makes the next List of owner wait until release is called.
func (f *fakeStore) blockList(owner string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.listGates[owner] = gate
	f.mu.Unlock()
	return func() { close(gate) }
}

// blockInserts makes inserts wait until release is called.
func (f *fakeStore) blockInserts() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.insertGate = gate
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.insertGate = nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeStore) List(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	f.mu.Lock()
	f.listCalls[owner]++
	gate := f.listGates[owner]
	delete(f.listGates, owner)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Map order: the client must sort
	var out []domain.Bookmark
	for _, b := range f.records {
		if b.OwnerID == owner {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(ctx context.Context, draft domain.Draft) (*domain.Bookmark, error) {
	f.mu.Lock()
	gate := f.insertGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.inserts++
	if f.insertErr != nil {
		f.mu.Unlock()
		return nil, f.insertErr
	}
	b := f.newRecordLocked(draft.OwnerID, draft.Title, draft.URL)
	f.mu.Unlock()

	f.publish(domain.ChangeEvent{Type: domain.ChangeInsert, Table: domain.TableBookmarks, Record: &b})
	return &b, nil
}

func (f *fakeStore) Delete(_ context.Context, owner, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	b, ok := f.records[id]
	if ok && b.OwnerID != owner {
		ok = false
	}
	if ok {
		delete(f.records, id)
	}
	f.mu.Unlock()

	if ok {
		f.publish(domain.ChangeEvent{Type: domain.ChangeDelete, Table: domain.TableBookmarks, Record: &b, OldID: id})
	}
	return nil
}

func (f *fakeStore) Subscribe(_ context.Context, filter domain.ChangeFilter, fn func(domain.ChangeEvent)) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextFeed
	f.nextFeed++
	f.feeds[id] = fakeFeed{filter: filter, fn: fn}
	return &fakeSub{close: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.feeds, id)
	}}, nil
}

func (f *fakeStore) publish(ev domain.ChangeEvent) {
	f.mu.Lock()
	var fns []func(domain.ChangeEvent)
	for _, feed := range f.feeds {
		if feed.filter.Match(ev) {
			fns = append(fns, feed.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// put writes a record as another device would and publishes it.
func (f *fakeStore) put(owner, title string) domain.Bookmark {
	f.mu.Lock()
	b := f.newRecordLocked(owner, title, "https://example.com/"+title)
	f.mu.Unlock()
	f.publish(domain.ChangeEvent{Type: domain.ChangeInsert, Table: domain.TableBookmarks, Record: &b})
	return b
}

// seed writes a record without any event.
func (f *fakeStore) seed(owner, title string) domain.Bookmark {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newRecordLocked(owner, title, "https://example.com/"+title)
}

func (f *fakeStore) newRecordLocked(owner, title, url string) domain.Bookmark {
	f.seq++
	b := domain.Bookmark{
		ID:        fmt.Sprintf("rec-%d", f.seq),
		OwnerID:   owner,
		Title:     title,
		URL:       url,
		CreatedAt: f.base.Add(time.Duration(f.seq) * time.Second),
	}
	f.records[b.ID] = b
	return b
}

func (f *fakeStore) lists(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[owner]
}

func (f *fakeStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func (f *fakeStore) feedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

func (f *fakeStore) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

func (f *fakeStore) recordCount(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.records {
		if b.OwnerID == owner {
			n++
		}
	}
	return n
}
