package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrPinned is returned when deleting an entry that is in use
	ErrPinned = errors.New("cache entry in use")
)

// Stats holds cache metrics
type Stats struct {
	Capacity  int64 // Maximum capacity in bytes, 0 for unbounded
	Size      int64 // Current size in bytes
	ItemCount int64 // Number of entries
	Pinned    int64 // Entries currently in use

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64 // hits / (hits + misses)

	LastEvict time.Time
}

// Metadata describes a cached entry
type Metadata struct {
	Key        string
	Path       string
	Size       int64
	Timestamp  time.Time // When the entry was written
	LastAccess time.Time
	Hits       int64
	Pinned     bool
}

// Key returns the cache key of data: the first half of its SHA-256, hex
// encoded.
func Key(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}
