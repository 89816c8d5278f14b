// Package keystore implements a durable map of keys to values, backed by a
// SQLite store. Entries are rows bucketed by a 64-bit hash of the encoded key.
// Lookups scan every member of the key's bucket, comparing decoded keys for
// equality, so distinct keys which share a hash are resolved correctly.
// Buckets are expected to be small: the cost of an operation grows linearly
// with the size of its bucket.
package keystore

import (
	"context"
	"database/sql"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/metrics"
	"go.pickle.dev/core/sqlstore"
)

// Schema of the map table.
const Schema = `
	CREATE TABLE IF NOT EXISTS map (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		key_hash INTEGER NOT NULL,
		"key"    BLOB NOT NULL,
		"value"  BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS map_key_hash ON map(key_hash);`

// Option configures a Map.
type Option[K, V any] func(*Map[K, V])

// WithKeyCodec sets the Codec of keys. The default is JSONCodec.
func WithKeyCodec[K, V any](codec collection.Codec[K]) Option[K, V] {
	return func(m *Map[K, V]) { m.keys = codec }
}

// WithValueCodec sets the Codec of values. The default is JSONCodec.
func WithValueCodec[K, V any](codec collection.Codec[V]) Option[K, V] {
	return func(m *Map[K, V]) { m.values = codec }
}

// WithHasher sets the Hasher of encoded keys. The default is HighwayHash.
func WithHasher[K, V any](hasher Hasher) Option[K, V] {
	return func(m *Map[K, V]) { m.hash = hasher }
}

// WithEqual sets the EqualFunc of keys. The default is DeepEqual.
func WithEqual[K, V any](equal EqualFunc[K]) Option[K, V] {
	return func(m *Map[K, V]) { m.equal = equal }
}

// WithCacheSize sets the number of buckets held by the Map's read cache.
// A size <= 0 disables the cache, which is the default.
func WithCacheSize[K, V any](size int) Option[K, V] {
	return func(m *Map[K, V]) { m.cacheSize = size }
}

// Map is a durable map of K to V.
type Map[K, V any] struct {
	mu     sync.Mutex
	h      *sqlstore.Handle
	keys   collection.Codec[K]
	values collection.Codec[V]
	hash   Hasher
	equal  EqualFunc[K]

	cacheSize int
	cache     *lru.Cache // Encoded bucket rows, keyed on key_hash.
}

// Entry is a key and value of a Map.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// member is a decoded row of a bucket.
type member[K, V any] struct {
	id int64
	Entry[K, V]
}

// row is an encoded row of a bucket. Rows, rather than members, are cached
// so that every lookup decodes values which the caller alone owns.
type row struct {
	id     int64
	kb, vb []byte
}

// Open the Map stored in the Config directory.
func Open[K, V any](cfg sqlstore.Config, opts ...Option[K, V]) (*Map[K, V], error) {
	var m = &Map[K, V]{
		keys:   collection.JSONCodec[K]{},
		values: collection.JSONCodec[V]{},
		hash:   HighwayHash,
		equal:  DeepEqual[K],
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cacheSize > 0 {
		var err error
		if m.cache, err = lru.New(m.cacheSize); err != nil {
			return nil, errors.WithMessage(err, "building bucket cache")
		}
	}

	var err error
	if m.h, err = sqlstore.Open(cfg, Schema); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"dir": m.h.Dir(), "cache": m.cacheSize}).Debug("opened map")

	return m, nil
}

// Handle returns the sqlstore.Handle of the Map.
func (m *Map[K, V]) Handle() *sqlstore.Handle { return m.h }

// Put maps |key| to |value|, returning the previous value of |key| if it
// existed. Nil keys or values fail with collection.ErrInvalidArgument.
func (m *Map[K, V]) Put(ctx context.Context, key K, value V) (prev V, existed bool, err error) {
	defer func() { observe("put", err) }()

	var kb, vb []byte
	if kb, err = collection.EncodeValue(m.keys, key); err != nil {
		return prev, false, errors.WithMessage(err, "key")
	} else if vb, err = collection.EncodeValue(m.values, value); err != nil {
		return prev, false, errors.WithMessage(err, "value")
	}
	var hash = m.hash(kb)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.invalidate(hash)

	err = m.h.InTransaction(ctx, func(ctx context.Context) error {
		var mem, found, err = m.find(ctx, hash, kb)
		if err != nil {
			return err
		} else if found {
			prev, existed = mem.Value, true
			_, err = sqlstore.ExecuteUpdate(ctx, m.h,
				`UPDATE map SET "value" = ? WHERE id = ?`, sqlstore.Args(vb, mem.id), nil)
		} else {
			_, err = sqlstore.ExecuteUpdate(ctx, m.h,
				`INSERT INTO map (key_hash, "key", "value") VALUES (?, ?, ?)`,
				sqlstore.Args(hash, kb, vb), nil)
		}
		return err
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return prev, existed, nil
}

// Get returns the value of |key|, or ok=false if |key| isn't in the Map.
func (m *Map[K, V]) Get(ctx context.Context, key K) (value V, ok bool, err error) {
	defer func() { observe("get", err) }()

	var kb []byte
	if kb, err = collection.EncodeValue(m.keys, key); err != nil {
		return value, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok, err := m.find(ctx, m.hash(kb), kb)
	return mem.Value, ok, err
}

// ContainsKey returns whether |key| is in the Map.
func (m *Map[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	var _, ok, err = m.Get(ctx, key)
	return ok, err
}

// Remove removes |key| from the Map, returning its value if it existed.
func (m *Map[K, V]) Remove(ctx context.Context, key K) (prev V, existed bool, err error) {
	defer func() { observe("remove", err) }()

	var kb []byte
	if kb, err = collection.EncodeValue(m.keys, key); err != nil {
		return prev, false, err
	}
	var hash = m.hash(kb)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.invalidate(hash)

	err = m.h.InTransaction(ctx, func(ctx context.Context) error {
		var mem, found, err = m.find(ctx, hash, kb)
		if err != nil || !found {
			return err
		}
		prev, existed = mem.Value, true
		_, err = sqlstore.ExecuteUpdate(ctx, m.h,
			`DELETE FROM map WHERE id = ?`, sqlstore.Args(mem.id), nil)
		return err
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return prev, existed, nil
}

// Size returns the number of entries of the Map.
func (m *Map[K, V]) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r, err = sqlstore.ExecuteQuery(ctx, m.h, `SELECT COUNT(*) FROM map`, nil, sqlstore.ScanInt64)
	return int(r.Value), err
}

// IsEmpty returns whether the Map has no entries.
func (m *Map[K, V]) IsEmpty(ctx context.Context) (bool, error) {
	var n, err = m.Size(ctx)
	return n == 0, err
}

// Keys returns all keys of the Map, in insertion order.
func (m *Map[K, V]) Keys(ctx context.Context) ([]K, error) {
	var out []K
	var it = m.Iterator()

	for {
		if ok, err := it.HasNext(ctx); err != nil {
			return nil, err
		} else if !ok {
			return out, nil
		}
		var e, err = it.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Key)
	}
}

// KeySet returns a collection.Collection view of the keys of the Map.
func (m *Map[K, V]) KeySet() *KeySet[K, V] { return &KeySet[K, V]{m: m} }

// Iterator returns an EntryIterator positioned before the first entry.
func (m *Map[K, V]) Iterator() *EntryIterator[K, V] {
	return &EntryIterator[K, V]{m: m, current: -1}
}

// Clear removes all entries of the Map.
func (m *Map[K, V]) Clear(ctx context.Context) (err error) {
	defer func() { observe("clear", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	_, err = sqlstore.ExecuteUpdate(ctx, m.h, `DELETE FROM map`, nil, nil)
	m.purge()
	return err
}

// Compact the store of the Map, reclaiming space of removed entries.
// The caller must ensure no other Handle is open on the same directory.
func (m *Map[K, V]) Compact(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purge()
	return m.h.Compact(ctx)
}

// Dispose the Map, closing its store.
func (m *Map[K, V]) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purge()
	m.h.Dispose()
}

// find the member of bucket |hash| which equals the key encoded as |kb|.
// The key is compared as it decodes from |kb|, exactly as stored keys
// are, so that keys which change under a codec round trip (eg, times
// losing their monotonic reading) still match themselves.
func (m *Map[K, V]) find(ctx context.Context, hash int64, kb []byte) (member[K, V], bool, error) {
	var key, err = m.keys.Decode(kb)
	if err != nil {
		return member[K, V]{}, false, errors.WithMessage(err, "decoding key")
	}
	bucket, err := m.bucket(ctx, hash)
	if err != nil {
		return member[K, V]{}, false, err
	}
	// Every member is compared: members other than the first may match.
	for _, r := range bucket {
		var other K
		if other, err = m.keys.Decode(r.kb); err != nil {
			return member[K, V]{}, false, errors.WithMessagef(err, "decoding key of entry %d", r.id)
		} else if !m.equal(other, key) {
			continue
		}
		var mem member[K, V]
		if mem, err = m.decode(r.id, r.kb, r.vb); err != nil {
			return member[K, V]{}, false, err
		}
		return mem, true, nil
	}
	return member[K, V]{}, false, nil
}

// bucket returns the encoded rows of bucket |hash|, in id order.
func (m *Map[K, V]) bucket(ctx context.Context, hash int64) ([]row, error) {
	if m.cache != nil {
		if b, ok := m.cache.Get(hash); ok {
			metrics.MapCacheLookupsTotal.WithLabelValues(metrics.Hit).Inc()
			return b.([]row), nil
		}
		metrics.MapCacheLookupsTotal.WithLabelValues(metrics.Miss).Inc()
	}

	var bucket, err = sqlstore.ExecuteQuery(ctx, m.h,
		`SELECT id, "key", "value" FROM map WHERE key_hash = ? ORDER BY id`, sqlstore.Args(hash),
		func(rows *sql.Rows) ([]row, error) {
			var out []row
			for rows.Next() {
				var r row
				if err := rows.Scan(&r.id, &r.kb, &r.vb); err != nil {
					return nil, err
				}
				out = append(out, r)
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	// Buckets read within a transaction may yet roll back, and aren't cached.
	if m.cache != nil && !m.h.InScope() {
		m.cache.Add(hash, bucket)
	}
	return bucket, nil
}

func (m *Map[K, V]) decode(id int64, kb, vb []byte) (member[K, V], error) {
	var mem = member[K, V]{id: id}
	var err error

	if mem.Key, err = m.keys.Decode(kb); err != nil {
		return mem, errors.WithMessagef(err, "decoding key of entry %d", id)
	} else if mem.Value, err = m.values.Decode(vb); err != nil {
		return mem, errors.WithMessagef(err, "decoding value of entry %d", id)
	}
	return mem, nil
}

func (m *Map[K, V]) invalidate(hash int64) {
	if m.cache != nil {
		m.cache.Remove(hash)
	}
}

func (m *Map[K, V]) purge() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

func observe(op string, err error) {
	var status = metrics.Ok
	if err != nil {
		status = metrics.Fail
	}
	metrics.MapOperationsTotal.WithLabelValues(op, status).Inc()
}
