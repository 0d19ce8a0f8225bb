// Package idempotency deduplicates inbound webhook notifications.
//
// The provider delivers at-least-once; handlers call Add with a
// deterministic fingerprint before any mutation and treat a false result
// as "already processed". Add must be a compare-and-insert, not a
// read-then-write: two concurrent deliveries of the same fingerprint must
// see exactly one true.
package idempotency

import (
	"context"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

// Cache records accepted webhook fingerprints. A fingerprint, once
// accepted, is never accepted again.
type Cache interface {
	Add(ctx context.Context, fingerprint string) (bool, error)
	Close() error
}

// Fingerprint builds the deduplication key from a notification's source,
// entity id, and event kind.
func Fingerprint(source, entityID, event string) string {
	return fmt.Sprintf("%s:%s:%s", source, entityID, event)
}

const bucketName = "webhooks"

// BoltCache is a durable single-node Cache backed by an embedded BoltDB
// file. The check-then-put runs inside one bolt write transaction, which
// serializes concurrent callers.
type BoltCache struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the cache file and ensures the bucket
// exists.
func OpenBolt(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

// Add records the fingerprint. It returns true iff the fingerprint had
// never been accepted before.
func (c *BoltCache) Add(_ context.Context, fingerprint string) (bool, error) {
	added := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(fingerprint)) != nil {
			return nil
		}
		added = true
		return b.Put([]byte(fingerprint), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Close releases the database file lock.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
