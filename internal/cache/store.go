package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const indexName = "cache.index"

// Store is a disk cache of plugin libraries. Pinned entries belong to
// loaded plugins and are never evicted or deleted.
type Store struct {
	basePath string
	capacity int64 // Maximum size in bytes, 0 for unbounded
	size     int64 // Current size in bytes

	// Index for fast lookups
	index map[string]*entry
	pins  map[string]int

	mu sync.Mutex

	stats Stats
}

// entry represents an entry in the store index
type entry struct {
	Key        string
	FilePath   string
	Size       int64
	Timestamp  time.Time
	LastAccess time.Time
	Hits       int64
}

// New opens the store in basePath, creating the directory if needed. A
// capacity of 0 leaves the store unbounded.
func New(basePath string, capacity int64) (*Store, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("cache capacity must not be negative, got %d", capacity)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*entry),
		pins:     make(map[string]int),
		stats:    Stats{Capacity: capacity},
	}

	if err := s.loadIndex(); err != nil {
		// Start over with an empty index; the files are rewritten on demand
		s.index = make(map[string]*entry)
	}
	s.dropMissing()
	s.calculateSize()

	return s, nil
}

// Dir returns the directory entries are stored in.
func (s *Store) Dir() string {
	return s.basePath
}

// Get returns the path of the entry for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		return "", false
	}

	info, err := os.Stat(e.FilePath)
	if err != nil || info.Size() != e.Size {
		// File missing or truncated, remove from index
		if s.pins[key] == 0 {
			os.Remove(e.FilePath)
		}
		s.remove(key)
		s.stats.Misses++
		return "", false
	}

	e.LastAccess = time.Now()
	e.Hits++
	s.stats.Hits++

	return e.FilePath, true
}

// Put stores data under key and returns the path of the written file. ext
// is appended to the file name. Unpinned entries are evicted, least
// recently used first, to make room.
func (s *Store) Put(key, ext string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(len(data))

	if existing, ok := s.index[key]; ok {
		if s.pins[key] > 0 {
			// in use, and content addressed, so it is already correct
			return existing.FilePath, nil
		}
		os.Remove(existing.FilePath)
		s.remove(key)
	}

	if s.capacity > 0 {
		if size > s.capacity {
			return "", ErrItemTooLarge
		}
		for s.size+size > s.capacity {
			if !s.evictOldest() {
				return "", fmt.Errorf("%w: %d bytes pinned", ErrItemTooLarge, s.size)
			}
		}
	}

	path := filepath.Join(s.basePath, key+ext)
	if err := s.writeFile(path, data); err != nil {
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	s.index[key] = &entry{
		Key:        key,
		FilePath:   path,
		Size:       size,
		Timestamp:  now,
		LastAccess: now,
	}
	s.size += size
	s.updateStats()

	if err := s.saveIndex(); err != nil {
		return "", fmt.Errorf("failed to save cache index: %w", err)
	}
	return path, nil
}

// Pin marks key as in use. Pins nest.
func (s *Store) Pin(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[key]++
}

// Unpin releases one Pin of key.
func (s *Store) Unpin(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pins[key] <= 1 {
		delete(s.pins, key)
		return
	}
	s.pins[key]--
}

// Delete removes an entry from the store.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return nil
	}
	if s.pins[key] > 0 {
		return ErrPinned
	}

	os.Remove(e.FilePath)
	s.remove(key)
	return s.saveIndex()
}

// Clear removes every unpinned entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.index {
		if s.pins[key] > 0 {
			continue
		}
		os.Remove(e.FilePath)
		s.remove(key)
	}
	return s.saveIndex()
}

// RemoveOlderThan removes unpinned entries written before cutoff.
func (s *Store) RemoveOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.index {
		if e.Timestamp.Before(cutoff) && s.pins[key] == 0 {
			os.Remove(e.FilePath)
			s.remove(key)
			removed++
		}
	}
	if removed > 0 {
		_ = s.saveIndex()
	}
	return removed
}

// Size returns the current cache size in bytes.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Contains checks if a key exists in the store without updating access time.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Stats returns cache statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Size = s.size
	stats.ItemCount = int64(len(s.index))
	stats.Pinned = int64(len(s.pins))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Entries returns the entries, least recently used first.
func (s *Store) Entries() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Metadata, 0, len(s.index))
	for key, e := range s.index {
		out = append(out, Metadata{
			Key:        key,
			Path:       e.FilePath,
			Size:       e.Size,
			Timestamp:  e.Timestamp,
			LastAccess: e.LastAccess,
			Hits:       e.Hits,
			Pinned:     s.pins[key] > 0,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccess.Before(out[j].LastAccess)
	})
	return out
}

// Close saves the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndex()
}

// Private helper methods

func (s *Store) remove(key string) {
	if e, ok := s.index[key]; ok {
		s.size -= e.Size
		delete(s.index, key)
	}
	s.updateStats()
}

func (s *Store) updateStats() {
	s.stats.Size = s.size
	s.stats.ItemCount = int64(len(s.index))
}

// evictOldest evicts the least recently used unpinned entry. It reports
// false when nothing could be evicted.
func (s *Store) evictOldest() bool {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range s.index {
		if s.pins[key] > 0 {
			continue
		}
		if oldestKey == "" || e.LastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.LastAccess
		}
	}

	if oldestKey == "" {
		return false
	}
	os.Remove(s.index[oldestKey].FilePath)
	s.remove(oldestKey)
	s.stats.Evictions++
	s.stats.LastEvict = time.Now()
	return true
}

func (s *Store) writeFile(path string, data []byte) error {
	// Write to a temp file first, then rename, so an opener never sees a
	// partial library
	file, err := os.CreateTemp(s.basePath, "put-*")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func (s *Store) dropMissing() {
	for key, e := range s.index {
		info, err := os.Stat(e.FilePath)
		if err != nil || info.Size() != e.Size {
			delete(s.index, key)
		}
	}
}

func (s *Store) loadIndex() error {
	file, err := os.Open(filepath.Join(s.basePath, indexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&s.index)
}

func (s *Store) saveIndex() error {
	indexPath := filepath.Join(s.basePath, indexName)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(s.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

func (s *Store) calculateSize() {
	s.size = 0
	for _, e := range s.index {
		s.size += e.Size
	}
	s.updateStats()
}
