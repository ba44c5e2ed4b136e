package index

import (
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Factory creates and starts the client of a device.
type Factory func(device string) (*client.Client, error)

type entry struct {
	client   *client.Client
	lastSeen time.Time
}

// ClientIndex keeps one bookmark client per device in memory
type ClientIndex struct {
	mu      sync.Mutex
	clients map[string]*entry // device -> client
	factory Factory
	now     func() time.Time
	closed  bool
}

// NewClientIndex creates a new client index
func NewClientIndex(factory Factory) *ClientIndex {
	return &ClientIndex{
		clients: make(map[string]*entry),
		factory: factory,
		now:     time.Now,
	}
}

// SetClock replaces the clock used for idle tracking. Tests only.
func (idx *ClientIndex) SetClock(now func() time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.now = now
}

// Get returns the client of device and marks it as seen
func (idx *ClientIndex) Get(device string) (*client.Client, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.clients[device]
	if !ok {
		return nil, false
	}
	e.lastSeen = idx.now()
	return e.client, true
}

// GetOrCreate returns the client of device, creating it on first use.
// The factory runs outside the lock; if two requests race, the loser's
// client is closed.
func (idx *ClientIndex) GetOrCreate(device string) (*client.Client, error) {
	if c, ok := idx.Get(device); ok {
		return c, nil
	}

	idx.mu.Lock()
	closed := idx.closed
	idx.mu.Unlock()
	if closed {
		return nil, domain.ErrClosed
	}

	created, err := idx.factory(device)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		_ = created.Close()
		return nil, domain.ErrClosed
	}
	if e, ok := idx.clients[device]; ok {
		e.lastSeen = idx.now()
		idx.mu.Unlock()
		_ = created.Close()
		return e.client, nil
	}
	idx.clients[device] = &entry{client: created, lastSeen: idx.now()}
	idx.mu.Unlock()

	return created, nil
}

// Touch marks device as seen. Long-lived websockets call it.
func (idx *ClientIndex) Touch(device string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.clients[device]; ok {
		e.lastSeen = idx.now()
	}
}

// EvictIdle closes the clients not seen for ttl and returns their devices,
// sorted.
func (idx *ClientIndex) EvictIdle(ttl time.Duration) []string {
	idx.mu.Lock()
	now := idx.now()
	var evicted []*entry
	var devices []string
	for device, e := range idx.clients {
		if now.Sub(e.lastSeen) < ttl {
			continue
		}
		evicted = append(evicted, e)
		devices = append(devices, device)
		delete(idx.clients, device)
	}
	idx.mu.Unlock()

	// Close outside the lock: a client waits for its loop.
	for _, e := range evicted {
		_ = e.client.Close()
	}

	sort.Strings(devices)
	return devices
}

// Remove closes and forgets the client of device
func (idx *ClientIndex) Remove(device string) {
	idx.mu.Lock()
	e, ok := idx.clients[device]
	delete(idx.clients, device)
	idx.mu.Unlock()

	if ok {
		_ = e.client.Close()
	}
}

// Count returns the number of live clients
func (idx *ClientIndex) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.clients)
}

// CloseAll closes every client. Later GetOrCreate calls fail.
func (idx *ClientIndex) CloseAll() {
	idx.mu.Lock()
	idx.closed = true
	clients := idx.clients
	idx.clients = make(map[string]*entry)
	idx.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			_ = c.Close()
		}(e.client)
	}
	wg.Wait()
}
