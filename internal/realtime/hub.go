package realtime

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Invalidator is a table that can be told to re-fetch.
type Invalidator interface {
	Invalidate()
}

// Bus carries invalidations between dashboard instances.
type Bus interface {
	Publish(ctx context.Context, inv Invalidation) error
	Subscribe(ctx context.Context, handler func(Invalidation)) (cancel func(), err error)
}

type entry struct {
	screen string
	scope  map[string]string
	table  Invalidator
}

// Hub tracks the live tables of this instance and fans invalidations out to
// them. With a bus, invalidations go through it so every instance sees
// each one exactly once, this one included.
type Hub struct {
	mu     sync.RWMutex
	tables map[string]entry
	logger *zap.Logger
	bus    Bus
}

// NewHub creates a hub. bus may be nil for a single instance.
func NewHub(logger *zap.Logger, bus Bus) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tables: make(map[string]entry),
		logger: logger,
		bus:    bus,
	}
}

// Run subscribes to the bus until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	cancel, err := h.bus.Subscribe(ctx, h.invalidateLocal)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return nil
}

// Register adds a table of screen bound to scope and returns its handle.
func (h *Hub) Register(screen string, scope map[string]string, t Invalidator) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.tables[id] = entry{screen: screen, scope: maps.Clone(scope), table: t}
	h.mu.Unlock()
	h.logger.Debug("live table registered", zap.String("table_id", id), zap.String("screen", screen))
	return id
}

// Unregister removes a table.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.tables, id)
	h.mu.Unlock()
	h.logger.Debug("live table unregistered", zap.String("table_id", id))
}

// Count returns the number of registered tables.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tables)
}

// Invalidate re-fetches every covered table on every instance.
func (h *Hub) Invalidate(ctx context.Context, inv Invalidation) {
	if h.bus != nil {
		err := h.bus.Publish(ctx, inv)
		if err == nil {
			return
		}
		h.logger.Warn("publish invalidation, falling back to local", zap.Error(err))
	}
	h.invalidateLocal(inv)
}

func (h *Hub) invalidateLocal(inv Invalidation) {
	h.mu.RLock()
	var hit []Invalidator
	for _, e := range h.tables {
		if inv.Covers(e.screen, e.scope) {
			hit = append(hit, e.table)
		}
	}
	h.mu.RUnlock()

	for _, t := range hit {
		t.Invalidate()
	}
	h.logger.Debug("tables invalidated", zap.String("screen", inv.Screen), zap.Int("count", len(hit)))
}
