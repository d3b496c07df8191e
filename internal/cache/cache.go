// Package cache implements the Query Cache (spec.md §4.9, §3.6): a
// process-wide, compiled-template LRU keyed by normalized query text plus
// schema identity. It owns normalization, eviction, and the hit/miss/
// eviction counters; the replan bypass policy (spec.md §4.9 "bypass") is
// enforced by the translator package, which is the only caller that knows
// the requested ast.Replan mode.
//
// Grounded on the LRU-cache-in-front-of-a-compiler pattern shared by the
// pack's qbloq-graphjin-agentico, YaoApp-gou, pthm-melange,
// simon-lentz-yammm, and peter7775-sql-graph-visualizer manifests, all of
// which depend on hashicorp/golang-lru for exactly this "compiled artifact
// cache" role.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

// replanPrefix strips a leading `CYPHER replan={default|force|skip}`
// directive before key normalization (spec.md §4.9 key normalization).
var replanPrefix = regexp.MustCompile(`(?i)^\s*CYPHER\s+replan\s*=\s*(default|force|skip)\s*`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeKey applies spec.md §4.9's key normalization: strip the replan
// prefix, then collapse all whitespace runs to single spaces. Parameter
// names and identifier casing are preserved untouched.
func NormalizeKey(queryText string) string {
	s := replanPrefix.ReplaceAllString(queryText, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Entry is one compiled-template cache row (spec.md §3.6).
type Entry struct {
	NormalizedQuery string
	SchemaName      string
	SQLTemplate     string
	SizeBytes       int64

	// lastAccessedEpoch is updated via atomic store on every Get, per
	// spec.md §5's "no lock upgrade needed since ordering is approximate
	// for LRU".
	lastAccessedEpoch int64
	accessCount       int64
}

// LastAccessedEpoch returns the entry's most recent access time (seconds).
func (e *Entry) LastAccessedEpoch() int64 { return atomic.LoadInt64(&e.lastAccessedEpoch) }

// AccessCount returns the number of times this entry has been read.
func (e *Entry) AccessCount() int64 { return atomic.LoadInt64(&e.accessCount) }

// Stats are the atomic hit/miss/eviction counters spec.md §5 requires.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is the process-wide Query Cache (spec.md §3.6, §4.9). Single lock
// over the backing map per spec.md §5; hit/miss/eviction counters are
// atomic so Stats() never blocks on the lock.
type Cache struct {
	mu           sync.Mutex
	entries      *lru.Cache[string, *Entry]
	maxEntries   int
	maxSizeBytes int64
	totalSize    int64

	// bySchema indexes composite keys by schema name so InvalidateSchema
	// doesn't need to scan the whole map (spec.md §5, §4.8 reload).
	bySchema map[string]map[string]struct{}

	hits      uint64
	misses    uint64
	evictions uint64

	// group collapses concurrent compiles of the same key into one
	// winner; spec.md §5 only requires tolerating the duplicate, but
	// singleflight removes the wasted work when it's avoidable for free.
	group singleflight.Group

	nowEpoch func() int64
}

// New creates a Cache bounded by maxEntries and maxSizeMB (spec.md §6.4's
// QUERY_CACHE_MAX_ENTRIES / QUERY_CACHE_MAX_SIZE_MB). nowEpoch supplies the
// current epoch seconds; production callers pass time-based clocks, tests
// pass a deterministic stub.
func New(maxEntries, maxSizeMB int, nowEpoch func() int64) *Cache {
	// The backing LRU is given one slot of headroom over maxEntries so that
	// golang-lru's own Add-triggered auto-eviction never fires: this
	// package's evictLocked is the only thing that removes entries, keeping
	// the eviction counter, totalSize, and bySchema index all in sync with
	// what actually leaves the map.
	backing, _ := lru.New[string, *Entry](intMax(maxEntries, 1) + 1)
	return &Cache{
		entries:      backing,
		maxEntries:   maxEntries,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		bySchema:     make(map[string]map[string]struct{}),
		nowEpoch:     nowEpoch,
	}
}

func intMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func compositeKey(schemaName, normalizedQuery string) string {
	// xxh3 keeps the composite key short and allocation-free for very
	// large normalized query text; collisions would require an exact
	// hash match AND an identical schema name, which is acceptable for a
	// best-effort compiled-SQL cache (a collision just forces a recompile).
	h := xxh3.HashString(schemaName + "\x00" + normalizedQuery)
	return schemaName + "/" + uint64ToHex(h)
}

func uint64ToHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Get looks up the normalized (queryText, schemaName) pair. A hit updates
// the entry's last-accessed time and access count.
func (c *Cache) Get(queryText, schemaName string) (string, bool) {
	key := compositeKey(schemaName, NormalizeKey(queryText))
	c.mu.Lock()
	entry, ok := c.entries.Get(key)
	c.mu.Unlock()
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return "", false
	}
	atomic.AddUint64(&c.hits, 1)
	atomic.StoreInt64(&entry.lastAccessedEpoch, c.nowEpoch())
	atomic.AddInt64(&entry.accessCount, 1)
	return entry.SQLTemplate, true
}

// Put inserts or overwrites a compiled template (spec.md §4.9: only
// successfully generated templates are ever inserted — callers must not
// call Put on a parse/plan error). Triggers eviction if either bound is
// exceeded afterward.
func (c *Cache) Put(queryText, schemaName, sqlTemplate string) {
	normalized := NormalizeKey(queryText)
	key := compositeKey(schemaName, normalized)
	entry := &Entry{
		NormalizedQuery:   normalized,
		SchemaName:        schemaName,
		SQLTemplate:       sqlTemplate,
		SizeBytes:         int64(len(sqlTemplate)),
		lastAccessedEpoch: c.nowEpoch(),
		accessCount:       1,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries.Get(key); ok {
		c.totalSize -= old.SizeBytes
	}
	c.entries.Add(key, entry)
	c.totalSize += entry.SizeBytes

	set, ok := c.bySchema[schemaName]
	if !ok {
		set = make(map[string]struct{})
		c.bySchema[schemaName] = set
	}
	set[key] = struct{}{}

	c.evictLocked()
}

// evictLocked applies spec.md §4.9's two eviction triggers. Count eviction
// removes exactly one entry; size eviction removes entries (oldest-first,
// per the backing LRU's recency order) until back within bound.
func (c *Cache) evictLocked() {
	if c.entries.Len() > c.maxEntries {
		c.evictOneLocked()
	}
	for c.maxSizeBytes > 0 && c.totalSize > c.maxSizeBytes && c.entries.Len() > 0 {
		c.evictOneLocked()
	}
}

func (c *Cache) evictOneLocked() {
	key, entry, ok := c.entries.RemoveOldest()
	if !ok {
		return
	}
	c.totalSize -= entry.SizeBytes
	if set, ok := c.bySchema[entry.SchemaName]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(c.bySchema, entry.SchemaName)
		}
	}
	atomic.AddUint64(&c.evictions, 1)
}

// InvalidateSchema drops every cached template bound to schemaName,
// following a schema reload (spec.md §4.8, §5).
func (c *Cache) InvalidateSchema(schemaName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.bySchema[schemaName]
	if !ok {
		return
	}
	for key := range set {
		if entry, ok := c.entries.Peek(key); ok {
			c.totalSize -= entry.SizeBytes
		}
		c.entries.Remove(key)
	}
	delete(c.bySchema, schemaName)
}

// Stats returns a snapshot of the hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Compile collapses concurrent compiles sharing the same (queryText,
// schemaName) key via singleflight (spec.md §5: duplicate in-flight
// compiles of the same key are tolerated, not forbidden — this just avoids
// the redundant work when callers overlap). fn must return the compiled SQL
// template; Compile does not itself consult or populate the cache.
func (c *Cache) Compile(queryText, schemaName string, fn func() (string, error)) (string, error, bool) {
	key := compositeKey(schemaName, NormalizeKey(queryText))
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return "", err, shared
	}
	return v.(string), nil, shared
}
