package atomicmap

import (
	"context"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Versioned Value
// --------------------------------------------------------------------------

// Versioned pairs a value with the monotonically increasing version stamp
// assigned by the backend when the value was written. A Versioned is never
// mutated: a changed value is represented by a new Versioned with a higher
// version. Version 0 is reserved: GetOrDefault returns the default value with
// version 0 to mark a substitution that was never stored.
type Versioned[V any] struct {
	Value   V
	Version int64
}

func (v Versioned[V]) String() string {
	return fmt.Sprintf("Versioned{value=%v, version=%d}", v.Value, v.Version)
}

// Entry is a single key/value pair of the map, as enumerated by the entry set
// view.
type Entry[K comparable, V any] struct {
	Key   K
	Value Versioned[V]
}

// --------------------------------------------------------------------------
// Compute-If Function Types
// --------------------------------------------------------------------------

// Condition gates a ComputeIf call. It receives the current value and whether
// the key is present. If it returns false, ComputeIf performs no write.
type Condition[V any] func(current V, present bool) bool

// RemapFunc computes the next value for a key in a ComputeIf call. It receives
// the key, the current value and whether the key is present. Returning
// keep=false removes the key (or is a no-op if the key is absent).
type RemapFunc[K comparable, V any] func(key K, current V, present bool) (next V, keep bool)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IAtomicMap is the generic interface for interacting with a distributed,
// strongly consistent, versioned key-value map.
//
// All operations are safe for concurrent use. Every operation blocks only the
// calling goroutine and honors cancellation of the supplied context. Responses
// from the same partition are delivered to callers in issue order, so a caller
// never observes a result that is older than one it has already observed.
//
// A map must be connected with Connect before any data operation is issued.
// After Close (or after the session expired upstream) all operations fail
// immediately without a round trip; the map does not reconnect on its own.
type IAtomicMap[K comparable, V any] interface {
	// Name returns the name of the primitive instance.
	Name() string

	// Connect creates the remote session and starts the keep-alive task.
	Connect(ctx context.Context) error
	// Close destroys the remote session. Pending operations complete or fail
	// normally; operations issued after Close fail immediately.
	Close(ctx context.Context) error

	// Size returns the number of entries across all partitions. The result is
	// not a cross-partition snapshot.
	Size(ctx context.Context) (int, error)
	// IsEmpty returns whether the map holds no entries.
	IsEmpty(ctx context.Context) (bool, error)
	// ContainsKey returns whether the given key is present.
	ContainsKey(ctx context.Context, key K) (bool, error)
	// ContainsValue is not supported: the backend has no value index. It
	// always fails with RetCUnsupportedOperation, without a round trip.
	ContainsValue(ctx context.Context, value V) (bool, error)
	// Get returns the versioned value for the key, or nil if absent.
	Get(ctx context.Context, key K) (*Versioned[V], error)
	// GetOrDefault returns the versioned value for the key, or
	// Versioned{defaultValue, 0} if the key is absent.
	GetOrDefault(ctx context.Context, key K, defaultValue V) (*Versioned[V], error)
	// Put inserts or updates the value for a key and returns the previous
	// versioned value, or nil if the key was absent. A ttl of zero means no
	// expiry. Fails with RetCConcurrentModification if the backend reports a
	// write-lock conflict.
	Put(ctx context.Context, key K, value V, ttl time.Duration) (*Versioned[V], error)
	// PutIfAbsent inserts the value only if the key is absent. If the key
	// exists, the existing versioned value is returned unchanged and no write
	// is performed; otherwise nil is returned.
	PutIfAbsent(ctx context.Context, key K, value V, ttl time.Duration) (*Versioned[V], error)
	// Remove removes the key and returns the previous versioned value, or nil
	// if the key was absent.
	Remove(ctx context.Context, key K) (*Versioned[V], error)
	// RemoveValue removes the key only if the stored value equals the given
	// value. Returns whether the removal happened.
	RemoveValue(ctx context.Context, key K, value V) (bool, error)
	// RemoveVersion removes the key only if the stored version equals the
	// given version. Returns whether the removal happened.
	RemoveVersion(ctx context.Context, key K, version int64) (bool, error)
	// Replace sets the value only if the key is already present and returns
	// the previous versioned value. If the key was absent no write occurs and
	// nil is returned.
	Replace(ctx context.Context, key K, value V) (*Versioned[V], error)
	// ReplaceValue sets the value only if the stored value equals oldValue.
	ReplaceValue(ctx context.Context, key K, oldValue, newValue V) (bool, error)
	// ReplaceVersion sets the value only if the stored version equals
	// oldVersion.
	ReplaceVersion(ctx context.Context, key K, oldVersion int64, newValue V) (bool, error)
	// Clear removes all entries. The operation fans out to every partition
	// and is not atomic across partitions: a concurrent reader may observe a
	// partially cleared map.
	Clear(ctx context.Context) error

	// ComputeIf reads the current value and, if condition holds, applies
	// remap and writes the result conditioned on the version read. Every
	// mutating path is version-conditioned: any race with another writer
	// fails with RetCConcurrentModification instead of silently clobbering.
	// Returns the resulting versioned value (nil if the key ends up absent).
	ComputeIf(ctx context.Context, key K, condition Condition[V], remap RemapFunc[K, V]) (*Versioned[V], error)

	// KeySet returns a live view of the map's keys.
	KeySet() IDistributedSet[K]
	// Values returns a live view of the map's versioned values.
	Values() IDistributedCollection[Versioned[V]]
	// EntrySet returns a live view of the map's entries.
	EntrySet() IDistributedSet[Entry[K, V]]

	// AddListener registers a channel to receive change events. Listener
	// identity is channel identity: registering the same channel twice is a
	// no-op. The channel is never closed by the map; the caller owns it.
	AddListener(ctx context.Context, listener chan<- Event[K, V]) error
	// RemoveListener unregisters a previously registered channel. Removing an
	// unknown (or already removed) channel is a harmless no-op.
	RemoveListener(ctx context.Context, listener chan<- Event[K, V]) error
}

// IDistributedCollection is a read-mostly projection of an atomic map. The
// map is the only mutation entry point, therefore Add is never supported on a
// view.
type IDistributedCollection[E any] interface {
	// Name returns the name of the owning primitive.
	Name() string
	// Size returns the number of elements (delegates to the owning map).
	Size(ctx context.Context) (int, error)
	// IsEmpty returns whether the collection holds no elements.
	IsEmpty(ctx context.Context) (bool, error)
	// Add is not supported on map views and always fails with
	// RetCUnsupportedOperation.
	Add(ctx context.Context, element E) (bool, error)
	// Remove removes the element where the view supports it (key set removes
	// the key; other views fail with RetCUnsupportedOperation).
	Remove(ctx context.Context, element E) (bool, error)
	// Contains returns whether the element is in the collection, where the
	// view supports the lookup.
	Contains(ctx context.Context, element E) (bool, error)
	// Clear clears the owning map.
	Clear(ctx context.Context) error
	// Elements streams all elements of the view into ch and closes ch when
	// the enumeration completes. The enumeration is backed by a streaming
	// call; cancelling the context tears it down.
	Elements(ctx context.Context, ch chan<- E) error
	// AddListener registers a channel for collection events; same identity
	// semantics as IAtomicMap.AddListener.
	AddListener(ctx context.Context, listener chan<- CollectionEvent[E]) error
	// RemoveListener unregisters a listener channel; unknown channels are a
	// no-op.
	RemoveListener(ctx context.Context, listener chan<- CollectionEvent[E]) error
}

// IDistributedSet is a distributed collection with set semantics (each
// element occurs at most once).
type IDistributedSet[E any] interface {
	IDistributedCollection[E]
}
