package client

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
)

// NewTranscodingAtomicMap wraps a raw (string, []byte) map client into a map
// over arbitrary key and value types. All consistency and ordering guarantees
// of the raw map carry over unchanged; the adapter only translates at the
// boundary. Codec failures surface as RetCCodec errors without a round trip.
func NewTranscodingAtomicMap[K comparable, V any](
	raw atomicmap.IAtomicMap[string, []byte],
	keyCodec atomicmap.ICodec[K, string],
	valueCodec atomicmap.ICodec[V, []byte],
) atomicmap.IAtomicMap[K, V] {
	return &transcodingMap[K, V]{
		raw:      raw,
		keys:     keyCodec,
		values:   valueCodec,
		adapters: make(map[chan<- atomicmap.Event[K, V]]*transcodingListener),
	}
}

type transcodingMap[K comparable, V any] struct {
	raw    atomicmap.IAtomicMap[string, []byte]
	keys   atomicmap.ICodec[K, string]
	values atomicmap.ICodec[V, []byte]

	mu       sync.Mutex
	adapters map[chan<- atomicmap.Event[K, V]]*transcodingListener
}

type transcodingListener struct {
	in   chan atomicmap.Event[string, []byte]
	stop chan struct{}
}

// --------------------------------------------------------------------------
// Codec Helpers
// --------------------------------------------------------------------------

func codecErr(what string, err error) error {
	return atomicmap.NewErrorf(atomicmap.RetCCodec, "failed to encode/decode %s: %v", what, err)
}

func (m *transcodingMap[K, V]) encodeKey(key K) (string, error) {
	raw, err := m.keys.Encode(key)
	if err != nil {
		return "", codecErr("key", err)
	}
	return raw, nil
}

func (m *transcodingMap[K, V]) encodeValue(value V) ([]byte, error) {
	raw, err := m.values.Encode(value)
	if err != nil {
		return nil, codecErr("value", err)
	}
	return raw, nil
}

// decodeVersioned translates a raw versioned value, passing nil through
func (m *transcodingMap[K, V]) decodeVersioned(raw *atomicmap.Versioned[[]byte]) (*atomicmap.Versioned[V], error) {
	if raw == nil {
		return nil, nil
	}
	value, err := m.values.Decode(raw.Value)
	if err != nil {
		return nil, codecErr("value", err)
	}
	return &atomicmap.Versioned[V]{Value: value, Version: raw.Version}, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (m *transcodingMap[K, V]) Name() string { return m.raw.Name() }

func (m *transcodingMap[K, V]) Connect(ctx context.Context) error { return m.raw.Connect(ctx) }

func (m *transcodingMap[K, V]) Close(ctx context.Context) error {
	m.mu.Lock()
	for out, adapter := range m.adapters {
		close(adapter.stop)
		delete(m.adapters, out)
	}
	m.mu.Unlock()
	return m.raw.Close(ctx)
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (m *transcodingMap[K, V]) Size(ctx context.Context) (int, error) { return m.raw.Size(ctx) }

func (m *transcodingMap[K, V]) IsEmpty(ctx context.Context) (bool, error) { return m.raw.IsEmpty(ctx) }

func (m *transcodingMap[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	return m.raw.ContainsKey(ctx, rawKey)
}

func (m *transcodingMap[K, V]) ContainsValue(_ context.Context, _ V) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation,
		"ContainsValue is not supported: the backend has no value index")
}

func (m *transcodingMap[K, V]) Get(ctx context.Context, key K) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}
	raw, err := m.raw.Get(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(raw)
}

func (m *transcodingMap[K, V]) GetOrDefault(ctx context.Context, key K, defaultValue V) (*atomicmap.Versioned[V], error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &atomicmap.Versioned[V]{Value: defaultValue, Version: 0}, nil
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (m *transcodingMap[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return nil, err
	}
	prev, err := m.raw.Put(ctx, rawKey, rawValue, ttl)
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(prev)
}

func (m *transcodingMap[K, V]) PutIfAbsent(ctx context.Context, key K, value V, ttl time.Duration) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return nil, err
	}
	existing, err := m.raw.PutIfAbsent(ctx, rawKey, rawValue, ttl)
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(existing)
}

func (m *transcodingMap[K, V]) Remove(ctx context.Context, key K) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}
	prev, err := m.raw.Remove(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(prev)
}

func (m *transcodingMap[K, V]) RemoveValue(ctx context.Context, key K, value V) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return false, err
	}
	return m.raw.RemoveValue(ctx, rawKey, rawValue)
}

func (m *transcodingMap[K, V]) RemoveVersion(ctx context.Context, key K, version int64) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	return m.raw.RemoveVersion(ctx, rawKey, version)
}

func (m *transcodingMap[K, V]) Replace(ctx context.Context, key K, value V) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return nil, err
	}
	prev, err := m.raw.Replace(ctx, rawKey, rawValue)
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(prev)
}

func (m *transcodingMap[K, V]) ReplaceValue(ctx context.Context, key K, oldValue, newValue V) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	rawOld, err := m.encodeValue(oldValue)
	if err != nil {
		return false, err
	}
	rawNew, err := m.encodeValue(newValue)
	if err != nil {
		return false, err
	}
	return m.raw.ReplaceValue(ctx, rawKey, rawOld, rawNew)
}

func (m *transcodingMap[K, V]) ReplaceVersion(ctx context.Context, key K, oldVersion int64, newValue V) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, err
	}
	rawNew, err := m.encodeValue(newValue)
	if err != nil {
		return false, err
	}
	return m.raw.ReplaceVersion(ctx, rawKey, oldVersion, rawNew)
}

func (m *transcodingMap[K, V]) Clear(ctx context.Context) error { return m.raw.Clear(ctx) }

// --------------------------------------------------------------------------
// Compute-If
// --------------------------------------------------------------------------

// ComputeIf runs the typed condition and remap functions inside the raw
// map's compute loop. Codec failures inside the callbacks are captured and
// returned as RetCCodec after the (aborted) call unwinds.
func (m *transcodingMap[K, V]) ComputeIf(
	ctx context.Context,
	key K,
	condition atomicmap.Condition[V],
	remap atomicmap.RemapFunc[K, V],
) (*atomicmap.Versioned[V], error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return nil, err
	}

	// A codec failure inside a callback cannot be returned through the raw
	// signatures; it is captured here and checked after the call.
	var callbackErr error

	rawCondition := func(current []byte, present bool) bool {
		if !present {
			var zero V
			return condition(zero, false)
		}
		value, err := m.values.Decode(current)
		if err != nil {
			callbackErr = codecErr("value", err)
			return false // abort without writing
		}
		return condition(value, true)
	}

	rawRemap := func(_ string, current []byte, present bool) ([]byte, bool) {
		var currentValue V
		if present {
			value, err := m.values.Decode(current)
			if err != nil {
				callbackErr = codecErr("value", err)
				return nil, false
			}
			currentValue = value
		}
		next, keep := remap(key, currentValue, present)
		if !keep {
			return nil, false
		}
		encoded, err := m.values.Encode(next)
		if err != nil {
			callbackErr = codecErr("value", err)
			return nil, false
		}
		return encoded, true
	}

	result, err := m.raw.ComputeIf(ctx, rawKey, rawCondition, rawRemap)
	if callbackErr != nil {
		return nil, callbackErr
	}
	if err != nil {
		return nil, err
	}
	return m.decodeVersioned(result)
}

// --------------------------------------------------------------------------
// Views and Listeners
// --------------------------------------------------------------------------

func (m *transcodingMap[K, V]) KeySet() atomicmap.IDistributedSet[K] {
	return newKeySetView[K, V](m)
}

func (m *transcodingMap[K, V]) Values() atomicmap.IDistributedCollection[atomicmap.Versioned[V]] {
	return newValuesView[K, V](m)
}

func (m *transcodingMap[K, V]) EntrySet() atomicmap.IDistributedSet[atomicmap.Entry[K, V]] {
	return newEntrySetView[K, V](m)
}

// AddListener registers a typed channel backed by a private raw listener and
// a translating pump. Identity of the typed channel carries over, so the
// identity semantics of the raw map are preserved.
func (m *transcodingMap[K, V]) AddListener(ctx context.Context, listener chan<- atomicmap.Event[K, V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adapters[listener]; ok {
		return nil // already registered
	}

	adapter := &transcodingListener{
		in:   make(chan atomicmap.Event[string, []byte], 16),
		stop: make(chan struct{}),
	}
	if err := m.raw.AddListener(ctx, adapter.in); err != nil {
		return err
	}
	m.adapters[listener] = adapter

	go func() {
		for {
			select {
			case raw := <-adapter.in:
				event, err := m.translateEvent(raw)
				if err != nil {
					// An undecodable event cannot be delivered; drop it
					Logger.Errorf("failed to decode event for %q: %v", m.raw.Name(), err)
					continue
				}
				select {
				case listener <- event:
				case <-adapter.stop:
					return
				}
			case <-adapter.stop:
				return
			}
		}
	}()

	return nil
}

func (m *transcodingMap[K, V]) RemoveListener(ctx context.Context, listener chan<- atomicmap.Event[K, V]) error {
	m.mu.Lock()
	adapter, ok := m.adapters[listener]
	if ok {
		delete(m.adapters, listener)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	close(adapter.stop)
	return m.raw.RemoveListener(ctx, adapter.in)
}

func (m *transcodingMap[K, V]) translateEvent(raw atomicmap.Event[string, []byte]) (atomicmap.Event[K, V], error) {
	key, err := m.keys.Decode(raw.Key)
	if err != nil {
		return atomicmap.Event[K, V]{}, codecErr("key", err)
	}

	event := atomicmap.Event[K, V]{Type: raw.Type, Key: key}
	if event.NewValue, err = m.decodeVersioned(raw.NewValue); err != nil {
		return atomicmap.Event[K, V]{}, err
	}
	if event.OldValue, err = m.decodeVersioned(raw.OldValue); err != nil {
		return atomicmap.Event[K, V]{}, err
	}
	return event, nil
}

// --------------------------------------------------------------------------
// Entry Enumeration
// --------------------------------------------------------------------------

// entries satisfies entrySource so the typed views can stream directly from
// the raw backend. A raw map without internal enumeration support falls back
// to its entry set view.
func (m *transcodingMap[K, V]) entries(ctx context.Context, fn func(e atomicmap.Entry[K, V]) error) error {
	translate := func(raw atomicmap.Entry[string, []byte]) error {
		key, err := m.keys.Decode(raw.Key)
		if err != nil {
			return codecErr("key", err)
		}
		value, err := m.values.Decode(raw.Value.Value)
		if err != nil {
			return codecErr("value", err)
		}
		return fn(atomicmap.Entry[K, V]{
			Key:   key,
			Value: atomicmap.Versioned[V]{Value: value, Version: raw.Value.Version},
		})
	}

	if src, ok := m.raw.(entrySource[string, []byte]); ok {
		return src.entries(ctx, translate)
	}

	ch := make(chan atomicmap.Entry[string, []byte], 64)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamErr = m.raw.EntrySet().Elements(ctx, ch)
	}()

	for raw := range ch {
		if err := translate(raw); err != nil {
			cancel()
			for range ch {
				// drain so the producer can finish
			}
			<-done
			return err
		}
	}
	<-done
	return streamErr
}
