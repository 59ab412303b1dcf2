package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
)

// entrySource is the contract the views need from their owning map: the full
// map interface plus the internal entry enumeration. Both the raw client and
// the transcoding adapter satisfy it.
type entrySource[K comparable, V any] interface {
	atomicmap.IAtomicMap[K, V]
	entries(ctx context.Context, fn func(atomicmap.Entry[K, V]) error) error
}

// --------------------------------------------------------------------------
// Listener Adaptation
// --------------------------------------------------------------------------

// viewListeners re-translates map events into collection events of one view.
// Each registered collection channel gets a private map listener channel and
// a pump goroutine; identity of the outer channel carries over.
type viewListeners[K comparable, V any, E any] struct {
	src       atomicmap.IAtomicMap[K, V]
	translate func(atomicmap.Event[K, V]) []atomicmap.CollectionEvent[E]

	mu       sync.Mutex
	adapters map[chan<- atomicmap.CollectionEvent[E]]*viewListenerAdapter[K, V]
}

type viewListenerAdapter[K comparable, V any] struct {
	in   chan atomicmap.Event[K, V]
	stop chan struct{}
}

func newViewListeners[K comparable, V any, E any](
	src atomicmap.IAtomicMap[K, V],
	translate func(atomicmap.Event[K, V]) []atomicmap.CollectionEvent[E],
) *viewListeners[K, V, E] {
	return &viewListeners[K, V, E]{
		src:       src,
		translate: translate,
		adapters:  make(map[chan<- atomicmap.CollectionEvent[E]]*viewListenerAdapter[K, V]),
	}
}

func (v *viewListeners[K, V, E]) add(ctx context.Context, out chan<- atomicmap.CollectionEvent[E]) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.adapters[out]; ok {
		return nil // already registered
	}

	adapter := &viewListenerAdapter[K, V]{
		in:   make(chan atomicmap.Event[K, V], 16),
		stop: make(chan struct{}),
	}

	if err := v.src.AddListener(ctx, adapter.in); err != nil {
		return err
	}
	v.adapters[out] = adapter

	go func() {
		for {
			select {
			case ev := <-adapter.in:
				for _, ce := range v.translate(ev) {
					select {
					case out <- ce:
					case <-adapter.stop:
						return
					}
				}
			case <-adapter.stop:
				return
			}
		}
	}()

	return nil
}

func (v *viewListeners[K, V, E]) remove(ctx context.Context, out chan<- atomicmap.CollectionEvent[E]) error {
	v.mu.Lock()
	adapter, ok := v.adapters[out]
	if ok {
		delete(v.adapters, out)
	}
	v.mu.Unlock()

	if !ok {
		return nil
	}

	close(adapter.stop)
	return v.src.RemoveListener(ctx, adapter.in)
}

// --------------------------------------------------------------------------
// Key Set View
// --------------------------------------------------------------------------

type keySetView[K comparable, V any] struct {
	src       entrySource[K, V]
	listeners *viewListeners[K, V, K]
}

func newKeySetView[K comparable, V any](src entrySource[K, V]) atomicmap.IDistributedSet[K] {
	return &keySetView[K, V]{
		src: src,
		listeners: newViewListeners[K, V, K](src,
			func(ev atomicmap.Event[K, V]) []atomicmap.CollectionEvent[K] {
				switch ev.Type {
				case atomicmap.EventInserted:
					return []atomicmap.CollectionEvent[K]{{Type: atomicmap.CollectionEventAdded, Element: ev.Key}}
				case atomicmap.EventRemoved:
					return []atomicmap.CollectionEvent[K]{{Type: atomicmap.CollectionEventRemoved, Element: ev.Key}}
				default:
					// An update leaves the key set unchanged
					return nil
				}
			}),
	}
}

func (s *keySetView[K, V]) Name() string { return s.src.Name() }

func (s *keySetView[K, V]) Size(ctx context.Context) (int, error) { return s.src.Size(ctx) }

func (s *keySetView[K, V]) IsEmpty(ctx context.Context) (bool, error) { return s.src.IsEmpty(ctx) }

func (s *keySetView[K, V]) Add(_ context.Context, _ K) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation, "Add is not supported on a key set view")
}

func (s *keySetView[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	prev, err := s.src.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	return prev != nil, nil
}

func (s *keySetView[K, V]) Contains(ctx context.Context, key K) (bool, error) {
	return s.src.ContainsKey(ctx, key)
}

func (s *keySetView[K, V]) Clear(ctx context.Context) error { return s.src.Clear(ctx) }

func (s *keySetView[K, V]) Elements(ctx context.Context, ch chan<- K) error {
	defer close(ch)
	return s.src.entries(ctx, func(e atomicmap.Entry[K, V]) error {
		select {
		case ch <- e.Key:
			return nil
		case <-ctx.Done():
			return atomicmap.NewErrorf(atomicmap.RetCInternalError, "enumeration cancelled: %v", ctx.Err())
		}
	})
}

func (s *keySetView[K, V]) AddListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[K]) error {
	return s.listeners.add(ctx, listener)
}

func (s *keySetView[K, V]) RemoveListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[K]) error {
	return s.listeners.remove(ctx, listener)
}

// --------------------------------------------------------------------------
// Values View
// --------------------------------------------------------------------------

type valuesView[K comparable, V any] struct {
	src       entrySource[K, V]
	listeners *viewListeners[K, V, atomicmap.Versioned[V]]
}

func newValuesView[K comparable, V any](src entrySource[K, V]) atomicmap.IDistributedCollection[atomicmap.Versioned[V]] {
	return &valuesView[K, V]{
		src: src,
		listeners: newViewListeners[K, V, atomicmap.Versioned[V]](src,
			func(ev atomicmap.Event[K, V]) []atomicmap.CollectionEvent[atomicmap.Versioned[V]] {
				switch ev.Type {
				case atomicmap.EventInserted:
					return []atomicmap.CollectionEvent[atomicmap.Versioned[V]]{
						{Type: atomicmap.CollectionEventAdded, Element: *ev.NewValue},
					}
				case atomicmap.EventUpdated:
					// An update swaps one value for another
					return []atomicmap.CollectionEvent[atomicmap.Versioned[V]]{
						{Type: atomicmap.CollectionEventRemoved, Element: *ev.OldValue},
						{Type: atomicmap.CollectionEventAdded, Element: *ev.NewValue},
					}
				case atomicmap.EventRemoved:
					return []atomicmap.CollectionEvent[atomicmap.Versioned[V]]{
						{Type: atomicmap.CollectionEventRemoved, Element: *ev.OldValue},
					}
				default:
					return nil
				}
			}),
	}
}

func (v *valuesView[K, V]) Name() string { return v.src.Name() }

func (v *valuesView[K, V]) Size(ctx context.Context) (int, error) { return v.src.Size(ctx) }

func (v *valuesView[K, V]) IsEmpty(ctx context.Context) (bool, error) { return v.src.IsEmpty(ctx) }

func (v *valuesView[K, V]) Add(_ context.Context, _ atomicmap.Versioned[V]) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation, "Add is not supported on a values view")
}

func (v *valuesView[K, V]) Remove(_ context.Context, _ atomicmap.Versioned[V]) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation, "Remove is not supported on a values view")
}

func (v *valuesView[K, V]) Contains(_ context.Context, _ atomicmap.Versioned[V]) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation,
		"Contains is not supported on a values view: the backend has no value index")
}

func (v *valuesView[K, V]) Clear(ctx context.Context) error { return v.src.Clear(ctx) }

func (v *valuesView[K, V]) Elements(ctx context.Context, ch chan<- atomicmap.Versioned[V]) error {
	defer close(ch)
	return v.src.entries(ctx, func(e atomicmap.Entry[K, V]) error {
		select {
		case ch <- e.Value:
			return nil
		case <-ctx.Done():
			return atomicmap.NewErrorf(atomicmap.RetCInternalError, "enumeration cancelled: %v", ctx.Err())
		}
	})
}

func (v *valuesView[K, V]) AddListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[atomicmap.Versioned[V]]) error {
	return v.listeners.add(ctx, listener)
}

func (v *valuesView[K, V]) RemoveListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[atomicmap.Versioned[V]]) error {
	return v.listeners.remove(ctx, listener)
}

// --------------------------------------------------------------------------
// Entry Set View
// --------------------------------------------------------------------------

type entrySetView[K comparable, V any] struct {
	src       entrySource[K, V]
	listeners *viewListeners[K, V, atomicmap.Entry[K, V]]
}

func newEntrySetView[K comparable, V any](src entrySource[K, V]) atomicmap.IDistributedSet[atomicmap.Entry[K, V]] {
	return &entrySetView[K, V]{
		src: src,
		listeners: newViewListeners[K, V, atomicmap.Entry[K, V]](src,
			func(ev atomicmap.Event[K, V]) []atomicmap.CollectionEvent[atomicmap.Entry[K, V]] {
				switch ev.Type {
				case atomicmap.EventInserted:
					return []atomicmap.CollectionEvent[atomicmap.Entry[K, V]]{
						{Type: atomicmap.CollectionEventAdded, Element: atomicmap.Entry[K, V]{Key: ev.Key, Value: *ev.NewValue}},
					}
				case atomicmap.EventUpdated:
					return []atomicmap.CollectionEvent[atomicmap.Entry[K, V]]{
						{Type: atomicmap.CollectionEventRemoved, Element: atomicmap.Entry[K, V]{Key: ev.Key, Value: *ev.OldValue}},
						{Type: atomicmap.CollectionEventAdded, Element: atomicmap.Entry[K, V]{Key: ev.Key, Value: *ev.NewValue}},
					}
				case atomicmap.EventRemoved:
					return []atomicmap.CollectionEvent[atomicmap.Entry[K, V]]{
						{Type: atomicmap.CollectionEventRemoved, Element: atomicmap.Entry[K, V]{Key: ev.Key, Value: *ev.OldValue}},
					}
				default:
					return nil
				}
			}),
	}
}

func (s *entrySetView[K, V]) Name() string { return s.src.Name() }

func (s *entrySetView[K, V]) Size(ctx context.Context) (int, error) { return s.src.Size(ctx) }

func (s *entrySetView[K, V]) IsEmpty(ctx context.Context) (bool, error) { return s.src.IsEmpty(ctx) }

func (s *entrySetView[K, V]) Add(_ context.Context, _ atomicmap.Entry[K, V]) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation, "Add is not supported on an entry set view")
}

// Remove removes the entry's key conditioned on the entry's version. Entries
// without a version (version zero) cannot be matched.
func (s *entrySetView[K, V]) Remove(ctx context.Context, entry atomicmap.Entry[K, V]) (bool, error) {
	if entry.Value.Version == 0 {
		return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation,
			"Remove on an entry set view requires a versioned entry")
	}
	return s.src.RemoveVersion(ctx, entry.Key, entry.Value.Version)
}

// Contains matches the entry by key and version. Entries without a version
// (version zero) cannot be matched: values are not generically comparable.
func (s *entrySetView[K, V]) Contains(ctx context.Context, entry atomicmap.Entry[K, V]) (bool, error) {
	if entry.Value.Version == 0 {
		return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation,
			"Contains on an entry set view requires a versioned entry")
	}
	current, err := s.src.Get(ctx, entry.Key)
	if err != nil {
		return false, err
	}
	return current != nil && current.Version == entry.Value.Version, nil
}

func (s *entrySetView[K, V]) Clear(ctx context.Context) error { return s.src.Clear(ctx) }

func (s *entrySetView[K, V]) Elements(ctx context.Context, ch chan<- atomicmap.Entry[K, V]) error {
	defer close(ch)
	return s.src.entries(ctx, func(e atomicmap.Entry[K, V]) error {
		select {
		case ch <- e:
			return nil
		case <-ctx.Done():
			return atomicmap.NewErrorf(atomicmap.RetCInternalError, "enumeration cancelled: %v", ctx.Err())
		}
	})
}

func (s *entrySetView[K, V]) AddListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[atomicmap.Entry[K, V]]) error {
	return s.listeners.add(ctx, listener)
}

func (s *entrySetView[K, V]) RemoveListener(ctx context.Context, listener chan<- atomicmap.CollectionEvent[atomicmap.Entry[K, V]]) error {
	return s.listeners.remove(ctx, listener)
}
