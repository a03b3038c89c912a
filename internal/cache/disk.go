package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/quarrylabs/strata/internal/types"
)

const (
	// diskFileExt marks files owned by the tier so Clear and Stats never
	// touch foreign files in a shared directory.
	diskFileExt = ".cache"

	defaultDiskMaxAge       = 24 * time.Hour
	defaultCompressionFloor = 1024
)

// gzipMagic is the two-byte header that identifies a compressed file.
var gzipMagic = []byte{0x1f, 0x8b}

// DiskTier is the largest, slowest cache level: entries persist as files
// named by the SHA-256 of the key, JSON-serialized and optionally
// gzip-compressed. Files past the max age are deleted on read, as are
// files that fail to decode, so a corrupted or stale cache heals itself.
//
// Operations are serialized by a single mutex; disk I/O dominates, so the
// coarse lock favors correctness over throughput.
type DiskTier struct {
	mu            sync.Mutex
	dir           string
	maxAge        time.Duration
	compressFloor int
	logger        *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64

	closed atomic.Bool
}

// DiskTierOption configures a DiskTier.
type DiskTierOption func(*DiskTier)

// WithMaxAge overrides the fixed age past which files are treated as
// stale and deleted (default 24h).
func WithMaxAge(maxAge time.Duration) DiskTierOption {
	return func(t *DiskTier) {
		if maxAge > 0 {
			t.maxAge = maxAge
		}
	}
}

// WithCompressionThreshold overrides the serialized size above which
// compression is attempted (default 1KiB).
func WithCompressionThreshold(threshold int) DiskTierOption {
	return func(t *DiskTier) {
		if threshold > 0 {
			t.compressFloor = threshold
		}
	}
}

// NewDiskTier creates a disk tier rooted at dir, creating the directory
// if needed.
func NewDiskTier(dir string, logger *slog.Logger, opts ...DiskTierOption) (*DiskTier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}

	t := &DiskTier{
		dir:           dir,
		maxAge:        defaultDiskMaxAge,
		compressFloor: defaultCompressionFloor,
		logger:        logger.With("component", "disk-tier"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the tier name.
func (t *DiskTier) Name() string {
	return "disk"
}

// path maps a key to its file via a one-way hash, so arbitrary key
// strings never produce filesystem-unsafe names or collisions.
func (t *DiskTier) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:])+diskFileExt)
}

// Get retrieves an entry. Every failure mode degrades to a miss: absent
// file, stale file (older than the max age, deleted on sight), or a file
// that fails to decompress or decode (also deleted). Access metadata is
// updated on the returned entry only, not persisted back.
func (t *DiskTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if t.closed.Load() {
		return nil, types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.path(key)
	info, err := os.Stat(path)
	if err != nil {
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	if t.maxAge > 0 && time.Since(info.ModTime()) > t.maxAge {
		t.removeFile(path, "stale")
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.logger.Warn("failed to read cache file", "key", key, "error", err)
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	if bytes.HasPrefix(data, gzipMagic) {
		data, err = gunzip(data)
		if err != nil {
			t.removeFile(path, "corrupted")
			t.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.removeFile(path, "corrupted")
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	if entry.Expired() {
		t.removeFile(path, "expired")
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	entry.Touch()
	entry.Tier = types.TierDisk
	t.hits.Add(1)
	return &entry, nil
}

// Set serializes the entry and writes it atomically (temp file + rename).
// When the entry carries the compress hint and the payload clears the
// threshold, the compressed form is kept only if it is actually smaller.
// I/O failures are logged as warnings and returned for the orchestrator
// to count as a failed tier write; they never panic a caller.
func (t *DiskTier) Set(ctx context.Context, entry *types.CacheEntry) error {
	if t.closed.Load() {
		return types.ErrClosed
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return types.NewCacheError("set", entry.Key, "disk", fmt.Errorf("%w: %v", types.ErrSerialization, err))
	}

	if entry.Compress && len(data) > t.compressFloor {
		if compressed, err := gzipBytes(data); err == nil && len(compressed) < len(data) {
			data = compressed
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.path(entry.Key)
	if err := t.writeAtomic(path, data); err != nil {
		t.logger.Warn("failed to write cache file", "key", entry.Key, "error", err)
		return types.NewCacheError("set", entry.Key, "disk", err)
	}

	t.sets.Add(1)
	return nil
}

func (t *DiskTier) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(t.dir, "write-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes the key's file. An absent file is not an error; the bool
// reports whether a removal occurred.
func (t *DiskTier) Delete(ctx context.Context, key string) (bool, error) {
	if t.closed.Load() {
		return false, types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := os.Remove(t.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, types.NewCacheError("delete", key, "disk", err)
	}

	t.deletes.Add(1)
	return true, nil
}

// Contains reports whether a fresh file exists for the key.
func (t *DiskTier) Contains(ctx context.Context, key string) (bool, error) {
	if t.closed.Load() {
		return false, types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.path(key))
	if err != nil {
		return false, nil
	}
	if t.maxAge > 0 && time.Since(info.ModTime()) > t.maxAge {
		return false, nil
	}
	return true, nil
}

// Clear removes all cache files in the directory. Per-file failures are
// logged, never raised; clearing continues past them.
func (t *DiskTier) Clear(ctx context.Context) error {
	if t.closed.Load() {
		return types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		return types.NewCacheError("clear", "", "disk", err)
	}

	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != diskFileExt {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, de.Name())); err != nil {
			t.logger.Warn("failed to remove cache file", "file", de.Name(), "error", err)
		}
	}
	return nil
}

// RemoveStale deletes files older than the max age and returns how many
// were removed. The background maintenance loop calls this periodically.
func (t *DiskTier) RemoveStale(ctx context.Context) (int, error) {
	if t.closed.Load() {
		return 0, types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, types.NewCacheError("remove_stale", "", "disk", err)
	}

	removed := 0
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != diskFileExt {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > t.maxAge {
			if err := os.Remove(filepath.Join(t.dir, de.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		t.logger.Debug("removed stale cache files", "count", removed)
	}
	return removed, nil
}

func (t *DiskTier) removeFile(path, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("failed to remove cache file", "path", path, "reason", reason, "error", err)
		return
	}
	t.logger.Debug("removed cache file", "path", filepath.Base(path), "reason", reason)
}

// Close marks the tier closed. Files stay on disk for the next process.
func (t *DiskTier) Close() error {
	t.closed.Store(true)
	return nil
}

// Stats walks the cache directory and reports file count and total bytes.
func (t *DiskTier) Stats() types.TierStats {
	var files, size int64

	t.mu.Lock()
	dirEntries, err := os.ReadDir(t.dir)
	if err == nil {
		for _, de := range dirEntries {
			if de.IsDir() || filepath.Ext(de.Name()) != diskFileExt {
				continue
			}
			if info, err := de.Info(); err == nil {
				files++
				size += info.Size()
			}
		}
	}
	t.mu.Unlock()

	return types.TierStats{
		Entries:   files,
		SizeBytes: size,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Sets:      t.sets.Load(),
		Deletes:   t.deletes.Load(),
		Available: !t.closed.Load(),
	}
}

// ResetStats zeroes the tier's counters.
func (t *DiskTier) ResetStats() {
	t.hits.Store(0)
	t.misses.Store(0)
	t.sets.Store(0)
	t.deletes.Store(0)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var _ types.TierStore = (*DiskTier)(nil)
