package keystore

import (
	"reflect"

	"github.com/minio/highwayhash"
)

// Hasher maps an encoded key to its bucket. Equal keys must hash equally;
// distinct keys may collide.
type Hasher func(encodedKey []byte) int64

// EqualFunc returns whether two keys are the same key of a Map.
type EqualFunc[K any] func(a, b K) bool

var highwayKey = []byte("pickle:keystore:highwayhash:0001")

// HighwayHash is the default Hasher: 64-bit keyed HighwayHash of the encoded key.
func HighwayHash(encodedKey []byte) int64 {
	var h, err = highwayhash.New64(highwayKey)
	if err != nil {
		panic(err) // |highwayKey| is 32 bytes.
	}
	_, _ = h.Write(encodedKey)
	return int64(h.Sum64())
}

// DeepEqual is the default EqualFunc. A Map compares keys as they decode
// from their encodings, never as given by the caller.
func DeepEqual[K any](a, b K) bool { return reflect.DeepEqual(a, b) }
