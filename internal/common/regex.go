package common

import (
	"regexp"
	"sync"
)

// RegexCache memoizes compiled expressions, including compile failures.
// It is safe for concurrent use.
type RegexCache struct {
	entries map[string]regexEntry
	mu      sync.RWMutex
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

// NewRegexCache creates an empty cache.
func NewRegexCache() *RegexCache {
	return &RegexCache{entries: make(map[string]regexEntry)}
}

// Compile returns the compiled form of pattern, compiling it at most once.
func (c *RegexCache) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	entry, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return entry.re, entry.err
	}

	re, err := regexp.Compile(pattern)

	c.mu.Lock()
	c.entries[pattern] = regexEntry{re: re, err: err}
	c.mu.Unlock()

	return re, err
}

// Len returns the number of cached expressions.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Retain drops every expression not in keep and reports how many were dropped.
func (c *RegexCache) Retain(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for pattern := range c.entries {
		if _, ok := keep[pattern]; !ok {
			delete(c.entries, pattern)
			dropped++
		}
	}
	return dropped
}
