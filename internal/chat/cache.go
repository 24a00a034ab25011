package chat

import (
	"sync"
	"time"
)

// Entry is one cached message.
type Entry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// SessionMeta is the cached projection of a session row. The store copy
// stays authoritative.
type SessionMeta struct {
	SessionID   string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const DefaultMaxCachedSessions = 100

// Cache holds per-session message history and per-owner session
// metadata. The history side is bounded: at most maxSessions entries
// process-wide, evicted FIFO by insertion order. The eviction queue is
// an explicit slice paired with the map, never an iteration-order
// accident.
type Cache struct {
	mu          sync.Mutex
	maxSessions int
	history     map[string][]Entry
	order       []string // FIFO insertion order of history keys
	meta        map[string]map[string]SessionMeta
}

func NewCache(maxSessions int) *Cache {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxCachedSessions
	}
	return &Cache{
		maxSessions: maxSessions,
		history:     make(map[string][]Entry),
		meta:        make(map[string]map[string]SessionMeta),
	}
}

// History returns a copy of the cached entries for the session.
func (c *Cache) History(sessionID string) ([]Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.history[sessionID]
	if !ok {
		return nil, false
	}
	return append([]Entry(nil), entries...), true
}

// PutHistory installs the session's history, evicting the
// earliest-inserted entry when the cache is full.
func (c *Cache) PutHistory(sessionID string, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.history[sessionID]; !ok {
		for len(c.history) >= c.maxSessions && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.history, oldest)
		}
		c.order = append(c.order, sessionID)
	}
	c.history[sessionID] = append([]Entry(nil), entries...)
}

// AppendHistory appends to an already-cached session and reports whether
// the session was cached. An uncached session is left for the next read
// to load; appending here would cache a partial history.
func (c *Cache) AppendHistory(sessionID string, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.history[sessionID]
	if !ok {
		return false
	}
	c.history[sessionID] = append(entries, e)
	return true
}

// Invalidate drops the session's history entry.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.history[sessionID]; !ok {
		return
	}
	delete(c.history, sessionID)
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Metadata returns a copy of the owner's cached session metadata.
func (c *Cache) Metadata(owner string) (map[string]SessionMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.meta[owner]
	if !ok {
		return nil, false
	}
	cp := make(map[string]SessionMeta, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp, true
}

// PutMetadata replaces the owner's metadata wholesale.
func (c *Cache) PutMetadata(owner string, metas map[string]SessionMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]SessionMeta, len(metas))
	for k, v := range metas {
		cp[k] = v
	}
	c.meta[owner] = cp
}

// SetSessionMeta upserts one session's metadata for an owner whose map
// is already cached. Owners not yet cached are left for the next read.
func (c *Cache) SetSessionMeta(owner string, meta SessionMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.meta[owner]
	if !ok {
		return
	}
	m[meta.SessionID] = meta
}

// InvalidateOwner drops the owner's metadata map.
func (c *Cache) InvalidateOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, owner)
}

// HistoryLen reports the number of cached history entries.
func (c *Cache) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}
