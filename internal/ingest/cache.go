package ingest

import (
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Cache holds the latest values per asset. Updates merge into what is
// already there; a label keeps its last value until overwritten.
type Cache struct {
	mu    sync.RWMutex
	slots map[int]*slot
}

type slot struct {
	values map[string]any
	topics map[string]map[string]any
	ts     int64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{slots: make(map[int]*slot)}
}

// Merge folds values into the asset's slot and stamps it with at. obj, when
// non-nil, replaces the whole object kept for topic.
func (c *Cache) Merge(assetID int, values map[string]any, topic string, obj map[string]any, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[assetID]
	if !ok {
		s = &slot{values: make(map[string]any), topics: make(map[string]map[string]any)}
		c.slots[assetID] = s
	}
	for k, v := range values {
		s.values[k] = v
	}
	if obj != nil {
		s.topics[topic] = obj
	}
	s.ts = at.Unix()
}

// Latest returns a copy of the asset's slot. An unknown asset yields empty
// values and a zero timestamp.
func (c *Cache) Latest(assetID int) telemetry.Payload {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := telemetry.Payload{Values: map[string]any{}}
	s, ok := c.slots[assetID]
	if !ok {
		return p
	}
	for k, v := range s.values {
		p.Values[k] = v
	}
	if len(s.topics) > 0 {
		p.Topics = make(map[string]map[string]any, len(s.topics))
		for t, obj := range s.topics {
			p.Topics[t] = obj
		}
	}
	p.Timestamp = float64(s.ts)
	return p
}

// Forget drops an asset's slot.
func (c *Cache) Forget(assetID int) {
	c.mu.Lock()
	delete(c.slots, assetID)
	c.mu.Unlock()
}
