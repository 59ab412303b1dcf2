package atomicmap

import "encoding/json"

// --------------------------------------------------------------------------
// Codec Interface
// --------------------------------------------------------------------------

// ICodec is a bidirectional codec between a caller-facing type A and a
// backing type B. Codecs are used by the transcoding map adapter to present a
// raw (string, []byte) map as a map over arbitrary key and value types.
//
// A codec is never asked to encode or decode absence: nil versioned values
// pass through the transcoding layer untouched. Implementations must be
// stateless and safe for concurrent use.
type ICodec[A, B any] interface {
	// Encode converts a caller-facing value into the backing representation.
	Encode(a A) (B, error)
	// Decode converts a backing value back into the caller-facing type.
	Decode(b B) (A, error)
}

// --------------------------------------------------------------------------
// Built-In Codecs
// --------------------------------------------------------------------------

// NewStringCodec creates a codec between string and []byte. Useful for maps
// whose values are plain text.
func NewStringCodec() ICodec[string, []byte] {
	return stringCodec{}
}

type stringCodec struct{}

func (stringCodec) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// NewIdentityCodec creates a codec that passes values through unchanged.
// Useful when only one side of a key/value pair needs transcoding.
func NewIdentityCodec[T any]() ICodec[T, T] {
	return identityCodec[T]{}
}

type identityCodec[T any] struct{}

func (identityCodec[T]) Encode(t T) (T, error) { return t, nil }
func (identityCodec[T]) Decode(t T) (T, error) { return t, nil }

// NewJSONCodec creates a codec between an arbitrary type T and its JSON
// encoding. Decoding a value that was not produced by Encode fails with the
// json package's error, which the transcoding layer surfaces as RetCCodec.
func NewJSONCodec[T any]() ICodec[T, []byte] {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(t T) ([]byte, error) {
	return json.Marshal(t)
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var t T
	err := json.Unmarshal(b, &t)
	return t, err
}
