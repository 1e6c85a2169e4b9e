// Package cache keeps decompressed plugin libraries on disk. Entries are
// named by content hash, bounded by a byte capacity with LRU eviction, and
// indexed in a file that survives restarts.
package cache
