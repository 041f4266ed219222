package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/metrics"
)

// durableEntry is the on-disk envelope of one cached value.
type durableEntry struct {
	Value     json.RawMessage `json:"value"`
	Validator string          `json:"validator"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
}

// Durable is a file-backed cache surviving process restarts. Each key maps to
// one JSON file named by the key's SHA-256. Every failure mode on read
// (missing, expired, corrupt, unreadable) degrades to a cache miss.
type Durable struct {
	dir    string
	logger *logrus.Entry
}

// NewDurable creates a durable cache rooted at dir, creating it if needed.
func NewDurable(dir string, logger *logrus.Entry) (*Durable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Durable{dir: dir, logger: logger}, nil
}

// entryPath maps a key to its file. Hashing keeps arbitrary keys (repo names
// contain slashes) filesystem-safe.
func (d *Durable) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".json")
}

// Get reads the raw cached value for key. The second return is the validator
// string stored with the entry; ok is false on any miss.
func (d *Durable) Get(key string) (json.RawMessage, string, bool) {
	path := d.entryPath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.WithField("key", key).WithError(err).Debug("cache entry unreadable, treating as miss")
		}
		metrics.CacheMisses.WithLabelValues("durable").Inc()
		return nil, "", false
	}

	var entry durableEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		d.logger.WithField("key", key).WithError(err).Debug("cache entry corrupt, removing")
		os.Remove(path)
		metrics.CacheMisses.WithLabelValues("durable").Inc()
		return nil, "", false
	}

	if entry.TTL > 0 && time.Since(entry.Timestamp) > entry.TTL {
		os.Remove(path)
		metrics.CacheMisses.WithLabelValues("durable").Inc()
		return nil, "", false
	}

	metrics.CacheHits.WithLabelValues("durable").Inc()
	return entry.Value, entry.Validator, true
}

// GetJSON reads the cached value for key and unmarshals it into out.
func (d *Durable) GetJSON(key string, out any) (string, bool) {
	raw, validator, ok := d.Get(key)
	if !ok {
		return "", false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		d.logger.WithField("key", key).WithError(err).Debug("cache value does not match target type, treating as miss")
		return "", false
	}
	return validator, true
}

// Set stores value under key with a validator string and TTL. The write is
// atomic (temp file plus rename) so a crash never leaves a truncated entry.
func (d *Durable) Set(key string, value any, validator string, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing cache value for %q: %w", key, err)
	}

	entry := durableEntry{
		Value:     raw,
		Validator: validator,
		Timestamp: time.Now().UTC(),
		TTL:       ttl,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serializing cache entry for %q: %w", key, err)
	}

	path := d.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry for %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing cache entry for %q: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key, if present.
func (d *Durable) Delete(key string) error {
	err := os.Remove(d.entryPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting cache entry for %q: %w", key, err)
	}
	return nil
}

// DurableStats summarizes the on-disk entry set.
type DurableStats struct {
	Entries    int
	TotalBytes int64
}

// Stats scans the cache directory and reports entry count and total size.
func (d *Durable) Stats() (DurableStats, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return DurableStats{}, fmt.Errorf("reading cache directory: %w", err)
	}

	var st DurableStats
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Entries++
		st.TotalBytes += info.Size()
	}
	return st, nil
}

// Clear removes every entry in the cache directory.
func (d *Durable) Clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			return fmt.Errorf("removing cache entry %s: %w", e.Name(), err)
		}
	}
	return nil
}
