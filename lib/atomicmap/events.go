package atomicmap

import "fmt"

// --------------------------------------------------------------------------
// Map Events
// --------------------------------------------------------------------------

// EventType describes the kind of change a map event carries.
type EventType int

const (
	// EventInserted signals a key that was not present before. The event
	// carries the new value only.
	EventInserted EventType = iota
	// EventUpdated signals a key whose value changed. The event carries both
	// the old and the new value.
	EventUpdated
	// EventRemoved signals a key that was removed. The event carries the old
	// value only.
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single change notification of an atomic map. NewValue is nil for
// EventRemoved, OldValue is nil for EventInserted, both are set for
// EventUpdated.
type Event[K comparable, V any] struct {
	Type     EventType
	Key      K
	NewValue *Versioned[V]
	OldValue *Versioned[V]
}

func (e Event[K, V]) String() string {
	return fmt.Sprintf("Event{type=%s, key=%v}", e.Type, e.Key)
}

// --------------------------------------------------------------------------
// Collection Events
// --------------------------------------------------------------------------

// CollectionEventType describes the kind of change a collection event
// carries. Collections have no notion of update-in-place: an update of the
// owning map is delivered as a removal of the old element followed by an
// addition of the new one.
type CollectionEventType int

const (
	CollectionEventAdded CollectionEventType = iota
	CollectionEventRemoved
)

func (t CollectionEventType) String() string {
	switch t {
	case CollectionEventAdded:
		return "added"
	case CollectionEventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// CollectionEvent is a single change notification of a derived view.
type CollectionEvent[E any] struct {
	Type    CollectionEventType
	Element E
}
