package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/shoalstore/shoal/pkg/log"
	"github.com/shoalstore/shoal/pkg/metrics"
)

const storeFileName = "store.db"

// engineMetaBucket holds ReadMeta/WriteMeta values. The double-underscore
// prefix keeps it out of collection enumeration.
var engineMetaBucket = []byte("__engine_meta")

// BoltEngine implements Engine on a single BoltDB file under the node's
// data directory. Collections map to top-level buckets.
type BoltEngine struct {
	dataDir string
	logger  zerolog.Logger

	mu sync.Mutex
	db *bolt.DB
}

// NewBoltEngine creates an engine for the given data directory. Nothing is
// opened until Bootstrap or Mount.
func NewBoltEngine(dataDir string) *BoltEngine {
	return &BoltEngine{
		dataDir: dataDir,
		logger:  log.WithComponent("storage"),
	}
}

func (e *BoltEngine) storePath() string {
	return filepath.Join(e.dataDir, storeFileName)
}

// Bootstrap creates the store file and its reserved buckets.
func (e *BoltEngine) Bootstrap(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := os.Stat(e.storePath()); err == nil {
		return ErrAlreadyFormatted
	}
	if err := os.MkdirAll(e.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(e.storePath(), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(engineMetaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	e.db = db
	e.logger.Info().Str("path", e.storePath()).Msg("store created")
	return nil
}

// Mount opens an existing store.
func (e *BoltEngine) Mount(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return nil
	}
	if _, err := os.Stat(e.storePath()); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFormatted, e.storePath())
	}

	db, err := bolt.Open(e.storePath(), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	e.db = db
	e.logger.Info().Str("path", e.storePath()).Msg("store mounted")
	return nil
}

// Unmount closes the store.
func (e *BoltEngine) Unmount(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	if err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	e.logger.Info().Msg("store unmounted")
	return nil
}

func (e *BoltEngine) handle() (*bolt.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, ErrNotMounted
	}
	return e.db, nil
}

// ListCollections enumerates collection buckets.
func (e *BoltEngine) ListCollections(ctx context.Context) ([]CollectionID, error) {
	db, err := e.handle()
	if err != nil {
		return nil, err
	}
	var out []CollectionID
	err = db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if strings.HasPrefix(string(name), "__") {
				return nil
			}
			out = append(out, CollectionID(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return out, nil
}

// CollectionExists reports whether the bucket is present.
func (e *BoltEngine) CollectionExists(ctx context.Context, c CollectionID) (bool, error) {
	db, err := e.handle()
	if err != nil {
		return false, err
	}
	var exists bool
	err = db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(c)) != nil
		return nil
	})
	return exists, err
}

// Get reads one record, copying the value out of the read transaction.
func (e *BoltEngine) Get(ctx context.Context, c CollectionID, key string) ([]byte, error) {
	db, err := e.handle()
	if err != nil {
		return nil, err
	}
	var out []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoCollection, c)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, c, key)
		}
		// Bolt values are only valid inside the transaction.
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List reads all records under a key prefix, sorted by key.
func (e *BoltEngine) List(ctx context.Context, c CollectionID, prefix string) ([]Record, error) {
	db, err := e.handle()
	if err != nil {
		return nil, err
	}
	var out []Record
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoCollection, c)
		}
		cur := b.Cursor()
		p := []byte(prefix)
		for k, v := cur.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = cur.Next() {
			value := make([]byte, len(v))
			copy(value, v)
			out = append(out, Record{Key: string(k), Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit applies the transaction's operations inside one bolt update.
func (e *BoltEngine) Submit(ctx context.Context, t *Transaction) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	if t.Empty() {
		return nil
	}

	start := time.Now()
	err = db.Update(func(tx *bolt.Tx) error {
		for _, o := range t.ops {
			if err := applyOp(tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.ObserveStoreCommit(time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applyOp(tx *bolt.Tx, o op) error {
	switch o.kind {
	case opPut:
		b := tx.Bucket([]byte(o.coll))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoCollection, o.coll)
		}
		return b.Put([]byte(o.key), o.value)
	case opDelete:
		b := tx.Bucket([]byte(o.coll))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoCollection, o.coll)
		}
		return b.Delete([]byte(o.key))
	case opCreateCollection:
		if _, err := tx.CreateBucket([]byte(o.coll)); err != nil {
			if err == bolt.ErrBucketExists {
				return fmt.Errorf("%w: %s", ErrCollectionExists, o.coll)
			}
			return fmt.Errorf("failed to create collection %s: %w", o.coll, err)
		}
		return nil
	case opRemoveCollection:
		if err := tx.DeleteBucket([]byte(o.coll)); err != nil {
			if err == bolt.ErrBucketNotFound {
				return fmt.Errorf("%w: %s", ErrNoCollection, o.coll)
			}
			return fmt.Errorf("failed to remove collection %s: %w", o.coll, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown transaction op %d", o.kind)
	}
}

// ReadMeta reads a small named value.
func (e *BoltEngine) ReadMeta(ctx context.Context, key string) (string, error) {
	db, err := e.handle()
	if err != nil {
		return "", err
	}
	var out string
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(engineMetaBucket)
		if b == nil {
			return fmt.Errorf("%w: engine meta", ErrNoCollection)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: meta/%s", ErrNotFound, key)
		}
		out = string(data)
		return nil
	})
	return out, err
}

// WriteMeta writes a small named value.
func (e *BoltEngine) WriteMeta(ctx context.Context, key, value string) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(engineMetaBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}
