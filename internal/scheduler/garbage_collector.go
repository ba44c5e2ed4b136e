package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marks/internal/index"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

const (
	// DefaultIdleTTL is the duration after which an unused client is closed
	DefaultIdleTTL = 30 * time.Minute
)

// GarbageCollector closes the clients of devices that went away
type GarbageCollector struct {
	index    *index.ClientIndex
	logger   logger.Logger
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	idx *index.ClientIndex,
	log logger.Logger,
	interval time.Duration,
	ttl time.Duration,
) *GarbageCollector {
	if ttl == 0 {
		ttl = DefaultIdleTTL
	}

	return &GarbageCollector{
		index:    idx,
		logger:   log,
		interval: interval,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection and blocks until ctx is done or
// Stop is called.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gc.Collect()
		case <-gc.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
}

// Collect closes the clients idle for longer than the ttl
func (gc *GarbageCollector) Collect() int {
	evicted := gc.index.EvictIdle(gc.ttl)

	if len(evicted) > 0 {
		for _, device := range evicted {
			gc.logger.Debug("garbage collected idle client",
				logger.String("device", device))
		}
		gc.logger.Info("garbage collection completed",
			logger.Int("clients_closed", len(evicted)),
			logger.Int("clients_live", gc.index.Count()))
	} else {
		gc.logger.Debug("no idle clients to collect")
	}

	return len(evicted)
}
