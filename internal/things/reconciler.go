// Package things holds the keyed in-memory collections the backend maintains
// through list snapshots and per-entity notifications (chargers, cars).
package things

import (
	"sort"
	"sync"
)

// Thing is one server-maintained entity. Field names and value types are
// open-ended; only the key fields are interpreted here.
type Thing map[string]any

// Key resolves the canonical identifier of a raw key or entity. The primary
// key field is thingId, with id as fallback. Entities without a usable
// identifier yield ok=false and must not be stored.
func Key(source any) (string, bool) {
	switch v := source.(type) {
	case string:
		return v, v != ""
	case Thing:
		return keyFromFields(v)
	case map[string]any:
		return keyFromFields(v)
	}
	return "", false
}

func keyFromFields(fields map[string]any) (string, bool) {
	if id, ok := fields["thingId"].(string); ok && id != "" {
		return id, true
	}
	if id, ok := fields["id"].(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// Collection reconciles incoming entity data into a keyed local set. The
// local set never holds two entries under the same key, and an upsert merges
// field-by-field with incoming values winning.
type Collection struct {
	mu     sync.RWMutex
	things map[string]Thing
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{things: make(map[string]Thing)}
}

// ReplaceAll applies an authoritative full-list snapshot: every incoming
// entity is upserted and every held entity absent from the snapshot is
// removed. Returns how many entries were created and removed.
func (c *Collection) ReplaceAll(list []Thing) (created, removed int) {
	seen := make(map[string]struct{}, len(list))
	for _, incoming := range list {
		key, ok := Key(incoming)
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		if wasCreated, ok := c.Upsert(incoming); ok && wasCreated {
			created++
		}
	}

	c.mu.Lock()
	for key := range c.things {
		if _, ok := seen[key]; !ok {
			delete(c.things, key)
			removed++
		}
	}
	c.mu.Unlock()

	return created, removed
}

// Upsert merges the incoming entity into the existing entry for its key,
// creating the entry when absent. Incoming fields win; the key field is
// normalized onto thingId. Returns created=true for a fresh entry and
// ok=false when the entity carries no usable identifier.
func (c *Collection) Upsert(incoming Thing) (created, ok bool) {
	key, ok := Key(incoming)
	if !ok {
		return false, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, exists := c.things[key]
	merged := make(Thing, len(previous)+len(incoming))
	for field, value := range previous {
		merged[field] = value
	}
	for field, value := range incoming {
		merged[field] = value
	}
	merged["thingId"] = key
	c.things[key] = merged

	return !exists, true
}

// Remove deletes the entry for the given key or entity. Removing an absent
// key is a no-op. Returns whether an entry was actually deleted.
func (c *Collection) Remove(source any) bool {
	key, ok := Key(source)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.things[key]; !exists {
		return false
	}
	delete(c.things, key)
	return true
}

// Get returns a copy of the entity under key.
func (c *Collection) Get(key string) (Thing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	thing, ok := c.things[key]
	if !ok {
		return nil, false
	}
	return CloneThing(thing), true
}

// Len returns the number of held entities.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.things)
}

// Snapshot returns copies of all entities ordered by key.
func (c *Collection) Snapshot() []Thing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.things))
	for key := range c.things {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Thing, 0, len(keys))
	for _, key := range keys {
		result = append(result, CloneThing(c.things[key]))
	}
	return result
}

// CloneThing returns a shallow copy of an entity.
func CloneThing(t Thing) Thing {
	clone := make(Thing, len(t))
	for field, value := range t {
		clone[field] = value
	}
	return clone
}
