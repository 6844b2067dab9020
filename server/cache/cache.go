// Package cache stores finished analysis results keyed by a content hash of
// the request, so identical submissions are not analysed twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores values by copy: Set serializes the value and Get decodes
// into dest, so callers never share memory with the cache.
type Cache interface {
	Set(ctx context.Context, key string, value any) error

	Get(ctx context.Context, key string, dest any) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	GetTTL(ctx context.Context, key string) (time.Duration, error)

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Items     int   `json:"items"`
	Expired   int   `json:"expired"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// GenerateCacheKey hashes the components in order. Components are length
// prefixed so ("ab","c") and ("a","bc") differ.
func GenerateCacheKey(components ...[]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, component := range components {
		n := uint64(len(component))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write(component)
	}
	return hex.EncodeToString(h.Sum(nil))
}
