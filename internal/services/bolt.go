package services

import (
	"bytes"
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltDB implements a key-value blob store on a BoltDB file. Every value lives in a single bucket and a
// write replaces the previous value of its key atomically.
type BoltDB struct {
	db *bolt.DB
}

var blobsBucket = []byte("blobs")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with the required bucket and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Set stores value under key, overwriting whatever was stored there before.
func (b BoltDB) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blobsBucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", blobsBucket)
		}
		if err := bucket.Put([]byte(key), value); err != nil {
			return fmt.Errorf("failed to put %s: %w", key, err)
		}
		return nil
	})
}

// Get returns the value stored under key. The boolean is false when the key has never been set; a key set
// to an empty value is found.
func (b BoltDB) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blobsBucket)
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		// The slice is only valid for the life of the transaction.
		value = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
