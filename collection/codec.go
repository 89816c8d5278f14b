package collection

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// Codec serializes values of T into the opaque payloads stored by a
// collection. Operations which match values by payload (eg, Queue.Contains
// and Queue.Remove) find a value only if equal values encode to equal bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// JSONCodec encodes values as JSON. It's the default Codec of collections.
// Its encodings are deterministic: map keys are written in sorted order.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[T]) Decode(b []byte) (T, error) {
	var v T
	var err = json.Unmarshal(b, &v)
	return v, err
}

// GobCodec encodes values with encoding/gob. Each payload is a standalone
// gob stream carrying its own type description. Maps are written in
// iteration order, so values holding maps of more than one entry don't
// encode deterministically and can't be matched by payload.
type GobCodec[T any] struct{}

func (GobCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec[T]) Decode(b []byte) (T, error) {
	var v T
	var err = gob.NewDecoder(bytes.NewReader(b)).Decode(&v)
	return v, err
}

// IsNil returns true if |v| is a nil interface, or a nil pointer, map,
// slice, channel or function. Nil values are not storable in collections.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// EncodeValue checks that |v| is not nil and encodes it with |codec|.
func EncodeValue[T any](codec Codec[T], v T) ([]byte, error) {
	if IsNil(v) {
		return nil, errors.WithMessage(ErrInvalidArgument, "nil is not supported")
	}
	var b, err = codec.Encode(v)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding value")
	}
	return b, nil
}
