package livesync

import (
	"sync"

	"fleetlive.io/internal/models"
)

// Cache holds the latest position of every vehicle, keyed by vehicle id. A newer
// update replaces the older one in place, so List keeps first-seen order.
type Cache struct {
	mu      sync.RWMutex
	entries []models.PositionUpdate
	index   map[int64]int
}

func NewCache() *Cache {
	return &Cache{index: make(map[int64]int)}
}

// Upsert stores update and reports whether it replaced an existing entry.
func (c *Cache) Upsert(update models.PositionUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[update.VehicleID]; ok {
		c.entries[i] = update
		return true
	}
	c.index[update.VehicleID] = len(c.entries)
	c.entries = append(c.entries, update)
	return false
}

func (c *Cache) Get(vehicleID int64) (models.PositionUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[vehicleID]
	if !ok {
		return models.PositionUpdate{}, false
	}
	return c.entries[i], true
}

// List returns a copy of every entry.
func (c *Cache) List() []models.PositionUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.PositionUpdate, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Replace swaps the whole content, e.g. after loading a snapshot over HTTP.
func (c *Cache) Replace(updates []models.PositionUpdate) {
	entries := make([]models.PositionUpdate, 0, len(updates))
	index := make(map[int64]int, len(updates))
	for _, u := range updates {
		if i, ok := index[u.VehicleID]; ok {
			entries[i] = u
			continue
		}
		index[u.VehicleID] = len(entries)
		entries = append(entries, u)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.index = index
}
