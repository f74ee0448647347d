// Package cache provides a small generic LRU cache.
//
//	c := cache.New[frameKey, *Frame](4)
//	c.Set(k, f)
//	f, ok := c.Get(k)
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
