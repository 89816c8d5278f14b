// Package collection defines the contracts shared by pickle's durable
// collections: the mutable Collection and its Iterator, the Sink accepted by
// drain operations, the Disposable resource contract, and the Codec used to
// serialize collection payloads into store rows.
//
// Collections report misuse through the sentinel errors of this package,
// which callers test with errors.Is:
//
//	if _, err := it.Next(ctx); errors.Is(err, collection.ErrNoSuchElement) {
//		// Iteration is complete.
//	}
package collection
