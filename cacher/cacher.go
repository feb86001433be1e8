// Package cacher provides fetch-through caches. The replay log uses them to
// serve game listings from a short-lived snapshot instead of recomputing turn
// counts on every GAMES request.
package cacher

import (
	"context"
	"time"
)

// FetchFunc loads the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T by key. Implementations collapse concurrent
// misses for the same key into a single fetch.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn and
	// caches its result for ttl.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - key: The cache key
	//   - ttl: How long a fetched value stays valid
	//   - fetchFn: Loads the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if fetching or cache access fails
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete evicts key so the next GetOrFetch fetches again.
	Delete(ctx context.Context, key string) error
}
