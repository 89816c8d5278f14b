package keystore

import (
	"context"

	"github.com/pkg/errors"
	"go.pickle.dev/core/collection"
)

// KeySet is a collection.Collection view of the keys of a Map. Removing a
// key from the KeySet removes its entry from the Map. Keys cannot be added
// without a value, and Add fails with collection.ErrUnsupported.
type KeySet[K, V any] struct {
	m *Map[K, V]
}

var _ collection.Collection[string] = (*KeySet[string, int])(nil)

// Add is unsupported.
func (s *KeySet[K, V]) Add(context.Context, K) error {
	return errors.WithMessage(collection.ErrUnsupported, "keys cannot be added without a value")
}

// Remove removes |key| from the Map, returning whether it existed.
func (s *KeySet[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	var _, ok, err = s.m.Remove(ctx, key)
	return ok, err
}

// Contains returns whether |key| is in the Map.
func (s *KeySet[K, V]) Contains(ctx context.Context, key K) (bool, error) {
	return s.m.ContainsKey(ctx, key)
}

// Size returns the number of entries of the Map.
func (s *KeySet[K, V]) Size(ctx context.Context) (int, error) { return s.m.Size(ctx) }

// IsEmpty returns whether the Map has no entries.
func (s *KeySet[K, V]) IsEmpty(ctx context.Context) (bool, error) { return s.m.IsEmpty(ctx) }

// Iterator returns an Iterator over keys of the Map, in insertion order.
func (s *KeySet[K, V]) Iterator() collection.Iterator[K] {
	return keyIterator[K, V]{s.m.Iterator()}
}

// Clear removes all entries of the Map.
func (s *KeySet[K, V]) Clear(ctx context.Context) error { return s.m.Clear(ctx) }

// Dispose is a no-op: the Map owns its store.
func (s *KeySet[K, V]) Dispose() {}

type keyIterator[K, V any] struct {
	*EntryIterator[K, V]
}

func (it keyIterator[K, V]) Next(ctx context.Context) (K, error) {
	var e, err = it.EntryIterator.Next(ctx)
	return e.Key, err
}
