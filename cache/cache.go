// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cache provides the resumable store of a recovery run.  Every
// discovery and signing step records its result under a (category, account
// index) key so that an interrupted run can be restarted without redoing
// work.  Entries are namespaced by the identity of the origin branch.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // bbolt driver
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// dbType is the walletdb driver backing the cache.
	dbType = "bdb"

	// dbTimeout is how long opening the database waits for the file lock
	// held by another process.
	dbTimeout = 10 * time.Second
)

var (
	// rootBucketName is the top-level bucket holding one bucket per
	// namespace.
	rootBucketName = []byte("msigrecovery")

	// ErrNotFound is returned when loading a key that was never saved.
	ErrNotFound = errors.New("cache entry not found")

	// ErrEmptyNamespace is returned when creating a cache without a
	// namespace.
	ErrEmptyNamespace = errors.New("cache namespace must not be empty")
)

// Category partitions the entries of a namespace.
type Category uint8

const (
	// OriginAccount entries record the discovery result of an origin
	// account.
	OriginAccount Category = iota

	// DestinationAccount entries record the sweep target of an account.
	DestinationAccount

	// Transaction entries record the signed sweep transaction of an
	// account.
	Transaction
)

var categoryNames = map[Category]string{
	OriginAccount:      "origin",
	DestinationAccount: "destination",
	Transaction:        "tx",
}

// String returns the name of the category, which is also its bucket name.
func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Cache is a persistent (category, index) to value store scoped to one
// namespace.  It is not safe for concurrent writers to the same key.
type Cache struct {
	db        walletdb.DB
	namespace []byte
	ownsDB    bool
}

// Open opens the cache database at dbPath, creating it when it does not
// exist yet, and returns the cache of the given namespace.
func Open(dbPath, namespace string) (*Cache, error) {
	var (
		db  walletdb.DB
		err error
	)
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		log.Infof("Creating cache database %s", dbPath)
		db, err = walletdb.Create(dbType, dbPath, true, dbTimeout, false)
	} else {
		db, err = walletdb.Open(dbType, dbPath, true, dbTimeout, false)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open cache database: %w", err)
	}

	c, err := New(db, namespace)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// New returns the cache of the given namespace stored in db.  Closing the
// returned cache does not close db.
func New(db walletdb.DB, namespace string) (*Cache, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	ns := []byte(namespace)

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		root, err := tx.CreateTopLevelBucket(rootBucketName)
		if err != nil {
			return err
		}
		nsBucket, err := root.CreateBucketIfNotExists(ns)
		if err != nil {
			return err
		}
		for c := range categoryNames {
			_, err := nsBucket.CreateBucketIfNotExists([]byte(c.String()))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create cache namespace %s: %w",
			namespace, err)
	}

	return &Cache{db: db, namespace: ns}, nil
}

// Namespace returns the namespace of the cache.
func (c *Cache) Namespace() string {
	return string(c.namespace)
}

func indexKey(index uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], index)
	return k[:]
}

func (c *Cache) readBucket(tx walletdb.ReadTx,
	cat Category) (walletdb.ReadBucket, error) {

	b := tx.ReadBucket(rootBucketName)
	if b != nil {
		b = b.NestedReadBucket(c.namespace)
	}
	if b != nil {
		b = b.NestedReadBucket([]byte(cat.String()))
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s/%v", walletdb.ErrBucketNotFound,
			c.namespace, cat)
	}
	return b, nil
}

// Save stores value under (cat, index), replacing any previous value.
func (c *Cache) Save(cat Category, index uint32, value []byte) error {
	return walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(rootBucketName)
		if b != nil {
			b = b.NestedReadWriteBucket(c.namespace)
		}
		if b != nil {
			b = b.NestedReadWriteBucket([]byte(cat.String()))
		}
		if b == nil {
			return fmt.Errorf("%w: %s/%v", walletdb.ErrBucketNotFound,
				c.namespace, cat)
		}

		// A nil Get result means absent, so never store nil.
		if value == nil {
			value = []byte{}
		}
		log.Tracef("Saving %v entry %d (%d bytes)", cat, index, len(value))
		return b.Put(indexKey(index), value)
	})
}

// Exists returns whether an entry exists for (cat, index).
func (c *Cache) Exists(cat Category, index uint32) (bool, error) {
	var exists bool
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		b, err := c.readBucket(tx, cat)
		if err != nil {
			return err
		}
		exists = b.Get(indexKey(index)) != nil
		return nil
	})
	return exists, err
}

// Load returns the value stored under (cat, index), if any.
func (c *Cache) Load(cat Category, index uint32) (fn.Option[[]byte], error) {
	var value fn.Option[[]byte]
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		b, err := c.readBucket(tx, cat)
		if err != nil {
			return err
		}
		v := b.Get(indexKey(index))
		if v == nil {
			value = fn.None[[]byte]()
			return nil
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		value = fn.Some(cp)
		return nil
	})
	return value, err
}

// MustLoad is like Load but returns ErrNotFound for absent entries.
func (c *Cache) MustLoad(cat Category, index uint32) ([]byte, error) {
	value, err := c.Load(cat, index)
	if err != nil {
		return nil, err
	}
	return value.UnwrapOrErr(fmt.Errorf("%w: %v %d", ErrNotFound, cat,
		index))
}

// Count returns the number of entries of a category.
func (c *Cache) Count(cat Category) (int, error) {
	indexes, err := c.Indexes(cat)
	return len(indexes), err
}

// Indexes returns the account indexes with an entry in the category, in
// ascending order.
func (c *Cache) Indexes(cat Category) ([]uint32, error) {
	var indexes []uint32
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		b, err := c.readBucket(tx, cat)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 || v == nil {
				return nil
			}
			indexes = append(indexes, binary.BigEndian.Uint32(k))
			return nil
		})
	})
	return indexes, err
}

// Close closes the underlying database when it was opened by Open.
func (c *Cache) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}
