// Package atomicmap defines the public interfaces and data types of the
// distributed atomic map primitive: a strongly consistent, partitioned,
// versioned key-value map backed by a replicated cluster service.
//
// The package focuses on:
//   - A unified generic interface (IAtomicMap) for map operations across
//     different key and value types
//   - Optimistic concurrency control through versioned values and
//     version-conditioned writes
//   - Derived collection views (key set, value collection, entry set) that
//     share the owning map's session and ordering guarantees
//   - Typed change events delivered through caller-owned channels
//
// Key Components:
//
//   - IAtomicMap Interface: The core abstraction defining all map operations.
//     Every operation takes a context and blocks only the calling goroutine.
//     Conditioned writes (PutIfAbsent, RemoveVersion, ReplaceVersion,
//     ComputeIf) surface lost races as RetCConcurrentModification errors
//     rather than silently resolving them.
//
//   - Versioned: An immutable value/version pair. Versions increase strictly
//     with every successful write of a key and are the basis for all
//     compare-and-swap operations.
//
//   - Error System: A structured error reporting mechanism using typed error
//     codes (RetCode) and descriptive messages, mirroring the wire-level
//     failure taxonomy (concurrent modification, unsupported operation,
//     session lifecycle failures, codec failures).
//
//   - ICodec: Bidirectional codecs used by the transcoding adapter in the
//     rpc/client package to present a raw (string, []byte) map as a map over
//     arbitrary types. Built-in codecs cover string and JSON transcoding.
//
// The concrete client implementation lives in the
// "github.com/ValentinKolb/dMap/rpc/client" package; an in-memory reference
// backend for tests and development lives in
// "github.com/ValentinKolb/dMap/rpc/server".
package atomicmap
