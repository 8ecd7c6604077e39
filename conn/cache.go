package conn

import (
	"container/list"
	"database/sql"
	"sync"
)

// CacheStats is a point-in-time snapshot of statement cache activity.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	Capacity  int
}

type cacheEntry struct {
	key  string
	stmt *sql.Stmt
}

// stmtCache is an LRU of prepared statements keyed by the portable SQL
// text plus its canonical tag comment. Eviction closes the statement.
type stmtCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	entries  map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

func newStmtCache(capacity int) *stmtCache {
	return &stmtCache{
		capacity: capacity,
		ll:       list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *stmtCache) get(key string) (*sql.Stmt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).stmt, true
}

func (c *stmtCache) put(key string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		// Lost a race with another preparer; keep the cached one.
		c.ll.MoveToFront(el)
		go stmt.Close()
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, stmt: stmt})
	c.entries[key] = el
	if c.ll.Len() > c.capacity {
		c.evict()
	}
}

// evict removes the least recently used entry. Callers hold c.mu.
func (c *stmtCache) evict() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.entries, entry.key)
	c.evictions++
	go entry.stmt.Close()
}

func (c *stmtCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
	}
}

func (c *stmtCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*cacheEntry).stmt.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.ll.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
	return first
}
