package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Header Structure
// --------------------------------------------------------------------------

// Header is the per-partition metadata attached to requests and responses.
// It carries the partition id, the session id (commands only) and the
// partition's log index. Headers are used exclusively to sequence responses
// and keep sessions alive, never for business data.
type Header struct {
	PartitionID uint32 `json:"partition_id"`
	SessionID   uint64 `json:"session_id,omitempty"`
	Index       uint64 `json:"index,omitempty"`
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses,
// including the elements of the entries and events server-push streams.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Primitive identity
	Name string `json:"name,omitempty"` // Primitive name, set on every request

	// General fields
	Key         string `json:"key,omitempty"`          // Used for: Exists, Get, Put, Remove, Replace, stream elements
	Value       []byte `json:"value"`                  // New value (requests), stored value (responses/stream elements); nil and empty are distinct
	Version     int64  `json:"version,omitempty"`      // Stored version; on Put: -1 = "only if absent"; on Remove: condition version
	PrevValue   []byte `json:"prev_value"`             // Condition value (Remove/Replace requests), previous value (responses); nil = unconditioned
	PrevVersion int64  `json:"prev_version,omitempty"` // Condition version (Replace requests), previous version (responses)
	TTLMillis   uint64 `json:"ttl_millis,omitempty"`   // Used for: Put requests, 0 = no expiry

	// Session fields
	TimeoutMillis uint64 `json:"timeout_millis,omitempty"` // Used for: Create requests

	// Response only fields
	Count  uint64 `json:"count,omitempty"`  // Used for: Size responses
	Ok     bool   `json:"ok,omitempty"`     // Used for: Exists responses
	Status Status `json:"status,omitempty"` // Used for: Put, Remove, Replace responses
	Err    string `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message

	// Event stream fields
	EvType EventType `json:"ev_type,omitempty"` // Used for: Events stream elements

	// Ordering metadata
	Header  *Header  `json:"header,omitempty"`  // Single-partition operations
	Headers []Header `json:"headers,omitempty"` // Session and fan-out operations (one per partition)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCreateRequest creates a new Create (session open) request
func NewCreateRequest(name string, timeoutMillis uint64) *Message {
	return &Message{
		MsgType:       MsgTCreate,
		Name:          name,
		TimeoutMillis: timeoutMillis,
	}
}

// NewCreateResponse creates a new Create response carrying one header per partition
func NewCreateResponse(headers []Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTCreate,
		Headers: headers,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewKeepAliveRequest creates a new KeepAlive request
func NewKeepAliveRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTKeepAlive,
		Name:    name,
		Headers: headers,
	}
}

// NewKeepAliveResponse creates a new KeepAlive response
func NewKeepAliveResponse(headers []Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTKeepAlive,
		Headers: headers,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCloseRequest creates a new Close (session teardown) request
func NewCloseRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTClose,
		Name:    name,
		Headers: headers,
	}
}

// NewCloseResponse creates a new Close response
func NewCloseResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTClose,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSizeRequest creates a new Size request fanning out to all partitions
func NewSizeRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTSize,
		Name:    name,
		Headers: headers,
	}
}

// NewSizeResponse creates a new Size response
func NewSizeResponse(count uint64, headers []Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTSize,
		Count:   count,
		Headers: headers,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewExistsRequest creates a new Exists request
func NewExistsRequest(name string, header *Header, key string) *Message {
	return &Message{
		MsgType: MsgTExists,
		Name:    name,
		Header:  header,
		Key:     key,
	}
}

// NewExistsResponse creates a new Exists response
func NewExistsResponse(ok bool, header *Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTExists,
		Ok:      ok,
		Header:  header,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewGetRequest creates a new Get request
func NewGetRequest(name string, header *Header, key string) *Message {
	return &Message{
		MsgType: MsgTGet,
		Name:    name,
		Header:  header,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response. A version of 0 marks an absent key.
func NewGetResponse(value []byte, version int64, header *Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTGet,
		Value:   value,
		Version: version,
		Header:  header,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewPutRequest creates a new Put request. A version of -1 makes the put
// conditional on the key being absent; 0 is an unconditional put.
func NewPutRequest(name string, header *Header, key string, value []byte, version int64, ttlMillis uint64) *Message {
	return &Message{
		MsgType:   MsgTPut,
		Name:      name,
		Header:    header,
		Key:       key,
		Value:     value,
		Version:   version,
		TTLMillis: ttlMillis,
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(status Status, prevValue []byte, prevVersion int64, header *Header, err error) *Message {
	msg := &Message{
		MsgType:     MsgTPut,
		Status:      status,
		PrevValue:   prevValue,
		PrevVersion: prevVersion,
		Header:      header,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewRemoveRequest creates a new Remove request. A non-nil prevValue or a
// version greater than zero makes the removal conditional.
func NewRemoveRequest(name string, header *Header, key string, prevValue []byte, version int64) *Message {
	return &Message{
		MsgType:   MsgTRemove,
		Name:      name,
		Header:    header,
		Key:       key,
		PrevValue: prevValue,
		Version:   version,
	}
}

// NewRemoveResponse creates a new Remove response
func NewRemoveResponse(status Status, prevValue []byte, prevVersion int64, header *Header, err error) *Message {
	msg := &Message{
		MsgType:     MsgTRemove,
		Status:      status,
		PrevValue:   prevValue,
		PrevVersion: prevVersion,
		Header:      header,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewReplaceRequest creates a new Replace request. A non-nil prevValue or a
// prevVersion greater than zero makes the replacement conditional; otherwise
// the replacement requires only that the key is present.
func NewReplaceRequest(name string, header *Header, key string, prevValue []byte, prevVersion int64, newValue []byte) *Message {
	return &Message{
		MsgType:     MsgTReplace,
		Name:        name,
		Header:      header,
		Key:         key,
		PrevValue:   prevValue,
		PrevVersion: prevVersion,
		Value:       newValue,
	}
}

// NewReplaceResponse creates a new Replace response
func NewReplaceResponse(status Status, prevValue []byte, prevVersion int64, header *Header, err error) *Message {
	msg := &Message{
		MsgType:     MsgTReplace,
		Status:      status,
		PrevValue:   prevValue,
		PrevVersion: prevVersion,
		Header:      header,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewClearRequest creates a new Clear request fanning out to all partitions
func NewClearRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTClear,
		Name:    name,
		Headers: headers,
	}
}

// NewClearResponse creates a new Clear response
func NewClearResponse(headers []Header, err error) *Message {
	msg := &Message{
		MsgType: MsgTClear,
		Headers: headers,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewEntriesRequest creates a new Entries (streaming enumeration) request
func NewEntriesRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTEntries,
		Name:    name,
		Headers: headers,
	}
}

// NewEntriesElement creates a single element of the entries stream
func NewEntriesElement(key string, value []byte, version int64) *Message {
	return &Message{
		MsgType: MsgTEntries,
		Key:     key,
		Value:   value,
		Version: version,
	}
}

// NewEventsRequest creates a new Events (server-push notifications) request
func NewEventsRequest(name string, headers []Header) *Message {
	return &Message{
		MsgType: MsgTEvents,
		Name:    name,
		Headers: headers,
	}
}

// NewEventsElement creates a single element of the events stream
func NewEventsElement(evType EventType, key string, oldValue []byte, oldVersion int64, newValue []byte, newVersion int64, header *Header) *Message {
	return &Message{
		MsgType:     MsgTEvents,
		EvType:      evType,
		Key:         key,
		PrevValue:   oldValue,
		PrevVersion: oldVersion,
		Value:       newValue,
		Version:     newVersion,
		Header:      header,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Status Definition
// --------------------------------------------------------------------------

// Status reports the outcome of a conditioned write. Anything other than the
// listed values passes through as a generic failure.
type Status uint8

const (
	StatusOK Status = iota
	// StatusWriteLock signals that another write raced and the backend could
	// not safely apply this one.
	StatusWriteLock
	// StatusPreconditionFailed signals that a value or version condition did
	// not match the stored entry.
	StatusPreconditionFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWriteLock:
		return "write_lock"
	case StatusPreconditionFailed:
		return "precondition_failed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Event Type Definition
// --------------------------------------------------------------------------

// EventType is the wire-level change type of an events stream element.
type EventType uint8

const (
	EventTInserted EventType = iota
	EventTUpdated
	EventTRemoved
)

func (t EventType) String() string {
	switch t {
	case EventTInserted:
		return "inserted"
	case EventTUpdated:
		return "updated"
	case EventTRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTCreate:
		return "create"
	case MsgTKeepAlive:
		return "keepAlive"
	case MsgTClose:
		return "close"
	case MsgTSize:
		return "size"
	case MsgTExists:
		return "exists"
	case MsgTGet:
		return "get"
	case MsgTPut:
		return "put"
	case MsgTRemove:
		return "remove"
	case MsgTReplace:
		return "replace"
	case MsgTClear:
		return "clear"
	case MsgTEntries:
		return "entries"
	case MsgTEvents:
		return "events"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "create":
		*t = MsgTCreate
	case "keepAlive":
		*t = MsgTKeepAlive
	case "close":
		*t = MsgTClose
	case "size":
		*t = MsgTSize
	case "exists":
		*t = MsgTExists
	case "get":
		*t = MsgTGet
	case "put":
		*t = MsgTPut
	case "remove":
		*t = MsgTRemove
	case "replace":
		*t = MsgTReplace
	case "clear":
		*t = MsgTClear
	case "entries":
		*t = MsgTEntries
	case "events":
		*t = MsgTEvents
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Session operations

	MsgTCreate    // Open a session for a primitive
	MsgTKeepAlive // Refresh session liveness
	MsgTClose     // Destroy a session

	// Map operations

	MsgTSize    // Count entries across all partitions
	MsgTExists  // Check if a key exists
	MsgTGet     // Get a versioned value by key
	MsgTPut     // Insert or update a key (optionally only-if-absent)
	MsgTRemove  // Remove a key (optionally value- or version-conditioned)
	MsgTReplace // Replace a key's value (optionally value- or version-conditioned)
	MsgTClear   // Remove all entries across all partitions

	// Streaming operations

	MsgTEntries // Server-stream of all entries
	MsgTEvents  // Server-stream of change notifications
)
