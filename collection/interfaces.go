package collection

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned when a nil value is offered to a
	// collection, or an operation is asked to act on itself.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSuchElement is returned by iterators which are exhausted, or
	// which are asked to remove without a current element.
	ErrNoSuchElement = errors.New("no such element")
	// ErrUnsupported is returned by operations a collection does not offer.
	ErrUnsupported = errors.New("unsupported operation")
)

// Disposable is implemented by collections which hold resources that must be
// explicitly released. Dispose is idempotent, and never fails: release errors
// are logged.
type Disposable interface {
	Dispose()
}

// Sink accepts values drained from a collection.
type Sink[T any] interface {
	Add(ctx context.Context, v T) error
}

// Iterator is a forward cursor over a Collection. Iterators tolerate
// concurrent removal of elements they have not yet visited.
type Iterator[T any] interface {
	// HasNext returns whether a further element exists, without consuming it.
	HasNext(ctx context.Context) (bool, error)
	// Next advances to and returns the next element, or ErrNoSuchElement.
	Next(ctx context.Context) (T, error)
	// Remove removes the element last returned by Next, or returns
	// ErrNoSuchElement if Next has not been called since the Iterator was
	// created or since the last Remove.
	Remove(ctx context.Context) error
}

// Collection is a durable, mutable collection of values.
type Collection[T any] interface {
	Sink[T]
	Disposable

	// Remove removes one instance of |v|, returning whether it was present.
	Remove(ctx context.Context, v T) (bool, error)
	// Contains returns whether an instance of |v| is present.
	Contains(ctx context.Context, v T) (bool, error)
	// Size returns the number of values in the collection.
	Size(ctx context.Context) (int, error)
	// IsEmpty returns whether Size is zero.
	IsEmpty(ctx context.Context) (bool, error)
	// Iterator returns an Iterator positioned before the first value.
	Iterator() Iterator[T]
	// Clear removes all values.
	Clear(ctx context.Context) error
}

// AddAll adds each of |vs| to the Sink, in order, stopping at the first error.
func AddAll[T any](ctx context.Context, s Sink[T], vs ...T) error {
	for i, v := range vs {
		if err := s.Add(ctx, v); err != nil {
			return errors.WithMessagef(err, "adding value %d", i)
		}
	}
	return nil
}

// SliceSink is a Sink which appends to an in-memory slice.
type SliceSink[T any] struct {
	Values []T
}

// Add appends |v| to the SliceSink.
func (s *SliceSink[T]) Add(_ context.Context, v T) error {
	s.Values = append(s.Values, v)
	return nil
}
