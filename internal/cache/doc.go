// Package cache provides a weighted LRU cache with expire-after-access
// semantics. Eviction callbacks run outside the cache lock so they may block,
// for example while closing a resource that is still in use.
package cache
