package pluginmanager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/speect-go/internal/cache"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// compressedExt marks zstd compressed plugins.
const compressedExt = ".zst"

// extract decompresses a .zst plugin into the plugin cache and returns
// the path of the decompressed copy and its cache key. Copies are named by
// content hash, so an unchanged plugin is extracted once. On success the
// entry is pinned and the caller owns the pin.
func (m *Manager) extract(path string) (string, string, error) {
	const op = "Manager.Load"

	compressed, err := os.ReadFile(path)
	if err != nil {
		return "", "", objsys.NewError(objsys.ErrorCodeIO, op, "",
			fmt.Sprintf("failed to read plugin '%s'", path), err).WithContext("path", path)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", "", objsys.NewError(objsys.ErrorCodeIO, op, "",
			fmt.Sprintf("failed to decompress plugin '%s'", path), err).WithContext("path", path)
	}

	store, err := m.cacheStore()
	if err != nil {
		return "", "", objsys.NewError(objsys.ErrorCodeIO, op, "", "failed to open plugin cache", err)
	}

	key := cache.Key(data)
	// pinned before it is looked up so a concurrent Put cannot evict it
	store.Pin(key)
	if target, ok := store.Get(key); ok {
		m.logger.Debug("using extracted plugin", "path", path, "extracted", target)
		return target, key, nil
	}

	ext := filepath.Ext(strings.TrimSuffix(path, compressedExt))
	if ext == "" {
		ext = m.config.Extension
	}
	target, err := store.Put(key, ext, data)
	if err != nil {
		store.Unpin(key)
		return "", "", objsys.NewError(objsys.ErrorCodeIO, op, "",
			fmt.Sprintf("failed to extract plugin '%s'", path), err).WithContext("path", path)
	}

	m.logger.Debug("plugin extracted", "path", path, "extracted", target, "bytes", len(data))
	return target, key, nil
}

// cacheStore opens the plugin cache on first use.
func (m *Manager) cacheStore() (*cache.Store, error) {
	m.storeOnce.Do(func() {
		m.store, m.storeErr = cache.New(m.config.CacheDir, m.config.CacheMaxBytes)
	})
	return m.store, m.storeErr
}

// CacheStats returns the plugin cache statistics, and false if the cache
// cannot be opened.
func (m *Manager) CacheStats() (cache.Stats, bool) {
	store, err := m.cacheStore()
	if err != nil {
		return cache.Stats{}, false
	}
	return store.Stats(), true
}

// Compress writes a zstd compressed copy of the plugin at src to dst.
func Compress(src, dst string, level int) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read plugin: %w", err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	if err := os.WriteFile(dst, encoder.EncodeAll(data, nil), 0o644); err != nil {
		return fmt.Errorf("failed to write compressed plugin: %w", err)
	}
	return nil
}
