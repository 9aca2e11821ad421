// Package boltcache persists probe outcomes in a bbolt database, so a
// URL probed once stays known across process restarts. It satisfies
// the ProbeCache contract of the convoy package.
package boltcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var probesBucket = []byte("probes")

// record is the stored shape of one probe outcome.
type record struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checked_at"`
}

// Cache is a persistent probe cache backed by bbolt.
type Cache struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path. A nil logger falls
// back to [slog.Default] at call time.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening probe cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(probesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating probes bucket: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

func (c *Cache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Get returns the cached outcome for url and whether one exists.
func (c *Cache) Get(url string) (bool, bool) {
	var rec record
	found := false

	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(probesBucket).Get([]byte(url))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshaling probe record: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		c.log().Error("reading probe cache", "url", url, "error", err)
		return false, false
	}

	return rec.OK, found
}

// Set records the outcome for url. Storage failures are logged, not
// surfaced; the cache is an optimization, never an authority.
func (c *Cache) Set(url string, ok bool) {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record{OK: ok, CheckedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("marshaling probe record: %w", err)
		}
		return tx.Bucket(probesBucket).Put([]byte(url), data)
	})
	if err != nil {
		c.log().Error("writing probe cache", "url", url, "error", err)
	}
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
