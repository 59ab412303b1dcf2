// Package testing provides a standardised test suite for implementations of
// the atomicmap.IAtomicMap interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the
//     IAtomicMap interface contract, including versioned writes, conditioned
//     operations, TTL expiry, views and change events
//
// This package is particularly useful for:
//   - Client implementations that need to prove interface conformance over
//     different transports and serializers
//   - Adapter implementations (e.g. transcoding layers) that must preserve
//     the semantics of the wrapped map
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() atomicmap.IAtomicMap[string, []byte] {
//		return NewMyAtomicMap()
//	}
//
//	// Running the standard test suite
//	maptesting.RunAtomicMapTests(t, "MyAtomicMap", factory)
package testing
