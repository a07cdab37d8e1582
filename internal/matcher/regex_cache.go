package matcher

import (
	"container/list"
	"regexp"
	"sync"

	"github.com/standardbeagle/sift/internal/errors"
)

// DefaultRegexCacheSize is the number of compiled patterns kept by default.
const DefaultRegexCacheSize = 128

// maxCachedPatternLength bounds the key size; longer patterns are compiled
// on every call.
const maxCachedPatternLength = 1000

// CacheStats tracks cache performance statistics
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type cacheEntry struct {
	key string
	re  *regexp.Regexp
}

// RegexCache is an LRU cache of compiled patterns keyed by pattern and flags.
type RegexCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	stats   CacheStats
}

// NewRegexCache creates a cache holding at most maxSize patterns.
func NewRegexCache(maxSize int) *RegexCache {
	if maxSize <= 0 {
		maxSize = DefaultRegexCacheSize
	}
	return &RegexCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// buildCacheKey creates a consistent cache key for a pattern. ^ and $ always
// match at line boundaries.
func buildCacheKey(pattern string, caseInsensitive bool) string {
	if caseInsensitive {
		return "(?im)" + pattern
	}
	return "(?m)" + pattern
}

// Get returns the compiled pattern, compiling and caching it on a miss.
// Compile failures are returned as *errors.SearchError and not cached.
func (rc *RegexCache) Get(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := buildCacheKey(pattern, caseInsensitive)

	rc.mu.Lock()
	if e, ok := rc.entries[key]; ok {
		rc.lru.MoveToFront(e)
		rc.stats.Hits++
		re := e.Value.(*cacheEntry).re
		rc.mu.Unlock()
		return re, nil
	}
	rc.stats.Misses++
	rc.mu.Unlock()

	re, err := regexp.Compile(key)
	if err != nil {
		return nil, errors.NewSearchError(pattern, err)
	}
	if len(pattern) > maxCachedPatternLength {
		return re, nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	// another caller may have compiled the same key meanwhile
	if e, ok := rc.entries[key]; ok {
		rc.lru.MoveToFront(e)
		return e.Value.(*cacheEntry).re, nil
	}
	if rc.lru.Len() >= rc.maxSize {
		rc.evictLocked()
	}
	rc.entries[key] = rc.lru.PushFront(&cacheEntry{key: key, re: re})
	return re, nil
}

// evictLocked removes the least recently used pattern
func (rc *RegexCache) evictLocked() {
	back := rc.lru.Back()
	if back == nil {
		return
	}
	delete(rc.entries, back.Value.(*cacheEntry).key)
	rc.lru.Remove(back)
	rc.stats.Evictions++
}

// Len returns the number of cached patterns.
func (rc *RegexCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lru.Len()
}

// Stats returns a copy of the counters.
func (rc *RegexCache) Stats() CacheStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stats
}

// Clear drops every cached pattern and resets the counters.
func (rc *RegexCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[string]*list.Element)
	rc.lru.Init()
	rc.stats = CacheStats{}
}
