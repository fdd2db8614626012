package zgraph

import (
	"container/list"
	"context"
	"database/sql"
	"sync"
)

// StmtCache is an LRU cache of prepared statements keyed by SQL text.
// Rendered SQL is deterministic, so equal queries reuse one statement.
// A statement evicted while in use is closed when its last user releases it.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*stmtEntry
	lru      *list.List

	hits, misses uint64
}

type stmtEntry struct {
	query   string
	stmt    *sql.Stmt
	element *list.Element
	refs    int
	evicted bool
}

// CacheStats reports statement cache usage.
type CacheStats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// NewStmtCache returns a cache holding up to capacity statements. A
// capacity of zero or less defaults to 100.
func NewStmtCache(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*stmtEntry),
		lru:      list.New(),
	}
}

// Prepare returns the cached statement for query, preparing it on db on a
// miss. The caller must call release when done with the statement.
func (c *StmtCache) Prepare(ctx context.Context, db *sql.DB, query string) (stmt *sql.Stmt, release func(), err error) {
	if stmt, release := c.Get(query); stmt != nil {
		return stmt, release, nil
	}
	stmt, err = db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	stmt, release = c.PutAndGet(query, stmt)
	return stmt, release, nil
}

// Get returns the cached statement for query and a release function, or
// nil, nil on a miss.
func (c *StmtCache) Get(query string) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[query]
	if !ok {
		c.misses++
		return nil, nil
	}
	c.hits++
	c.lru.MoveToFront(e.element)
	e.refs++
	return e.stmt, func() { c.release(e) }
}

// Put stores stmt for query, replacing and closing any previous statement
// once unused.
func (c *StmtCache) Put(query string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(query, stmt)
}

// PutAndGet stores stmt and returns it referenced, so it cannot be closed
// by an eviction before the caller is done.
func (c *StmtCache) PutAndGet(query string, stmt *sql.Stmt) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.put(query, stmt)
	e.refs++
	return e.stmt, func() { c.release(e) }
}

func (c *StmtCache) put(query string, stmt *sql.Stmt) *stmtEntry {
	if old, ok := c.items[query]; ok {
		c.evict(old)
	}
	if len(c.items) >= c.capacity {
		if back := c.lru.Back(); back != nil {
			c.evict(back.Value.(*stmtEntry))
		}
	}
	e := &stmtEntry{query: query, stmt: stmt}
	e.element = c.lru.PushFront(e)
	c.items[query] = e
	return e
}

func (c *StmtCache) evict(e *stmtEntry) {
	c.lru.Remove(e.element)
	delete(c.items, e.query)
	e.evicted = true
	if e.refs == 0 && e.stmt != nil {
		_ = e.stmt.Close()
	}
}

func (c *StmtCache) release(e *stmtEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.evicted && e.stmt != nil {
		_ = e.stmt.Close()
	}
}

// Clear closes all unused statements and empties the cache.
func (c *StmtCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		e.evicted = true
		if e.refs == 0 && e.stmt != nil {
			_ = e.stmt.Close()
		}
	}
	c.items = make(map[string]*stmtEntry)
	c.lru.Init()
}

// Close clears the cache.
func (c *StmtCache) Close() error {
	c.Clear()
	return nil
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the current cache statistics.
func (c *StmtCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Len: len(c.items), Hits: c.hits, Misses: c.misses}
}
