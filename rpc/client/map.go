package client

import (
	"context"
	"io"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/serializer"
	"github.com/ValentinKolb/dMap/rpc/transport"
)

// NewRPCAtomicMap creates a client for one named map primitive. The returned
// map is unconnected: call Connect before issuing operations. The map owns
// the transport and closes it together with the session.
//
// The raw client works on (string, []byte); wrap it with
// NewTranscodingAtomicMap for arbitrary key and value types.
func NewRPCAtomicMap(
	name string,
	shardID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) atomicmap.IAtomicMap[string, []byte] {
	m := &rpcMap{
		name:    name,
		session: newSession(name, shardID, config, transport, serializer),
	}
	m.events = newEventManager(m.session, name)
	return m
}

type rpcMap struct {
	name    string
	session *session
	events  *eventManager
}

// --------------------------------------------------------------------------
// Lifecycle (docu see the atomicmap package in interface.go)
// --------------------------------------------------------------------------

func (m *rpcMap) Name() string {
	return m.name
}

func (m *rpcMap) Connect(ctx context.Context) error {
	return m.session.open(ctx)
}

func (m *rpcMap) Close(ctx context.Context) error {
	m.events.shutdown()
	return m.session.close(ctx)
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (m *rpcMap) Size(ctx context.Context) (int, error) {
	resp, err := m.session.fanout(ctx, func(headers []common.Header) *common.Message {
		return common.NewSizeRequest(m.name, headers)
	})
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (m *rpcMap) IsEmpty(ctx context.Context) (bool, error) {
	size, err := m.Size(ctx)
	if err != nil {
		return false, err
	}
	return size == 0, nil
}

func (m *rpcMap) ContainsKey(ctx context.Context, key string) (bool, error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewExistsRequest(m.name, h, key)
	})
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// ContainsValue has no backend equivalent: the service indexes keys only
func (m *rpcMap) ContainsValue(_ context.Context, _ []byte) (bool, error) {
	return false, atomicmap.NewError(atomicmap.RetCUnsupportedOperation,
		"ContainsValue is not supported: the backend has no value index")
}

func (m *rpcMap) Get(ctx context.Context, key string) (*atomicmap.Versioned[[]byte], error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewGetRequest(m.name, h, key)
	})
	if err != nil {
		return nil, err
	}
	if resp.Version == 0 {
		return nil, nil // absent
	}
	return &atomicmap.Versioned[[]byte]{Value: resp.Value, Version: resp.Version}, nil
}

func (m *rpcMap) GetOrDefault(ctx context.Context, key string, defaultValue []byte) (*atomicmap.Versioned[[]byte], error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &atomicmap.Versioned[[]byte]{Value: defaultValue, Version: 0}, nil
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (m *rpcMap) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (*atomicmap.Versioned[[]byte], error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewPutRequest(m.name, h, key, value, 0, uint64(ttl/time.Millisecond))
	})
	if err != nil {
		return nil, err
	}
	if err := checkConflict("put", resp); err != nil {
		return nil, err
	}
	return previous(resp), nil
}

func (m *rpcMap) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (*atomicmap.Versioned[[]byte], error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewPutRequest(m.name, h, key, value, -1, uint64(ttl/time.Millisecond))
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == common.StatusWriteLock {
		return nil, atomicmap.NewError(atomicmap.RetCConcurrentModification, "putIfAbsent: write conflict")
	}
	if resp.Status == common.StatusPreconditionFailed {
		// The key exists, hand back the winning entry
		return previous(resp), nil
	}
	return nil, nil
}

func (m *rpcMap) Remove(ctx context.Context, key string) (*atomicmap.Versioned[[]byte], error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewRemoveRequest(m.name, h, key, nil, 0)
	})
	if err != nil {
		return nil, err
	}
	if err := checkConflict("remove", resp); err != nil {
		return nil, err
	}
	return previous(resp), nil
}

func (m *rpcMap) RemoveValue(ctx context.Context, key string, value []byte) (bool, error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewRemoveRequest(m.name, h, key, value, 0)
	})
	if err != nil {
		return false, err
	}
	return conditionOutcome("removeValue", resp)
}

func (m *rpcMap) RemoveVersion(ctx context.Context, key string, version int64) (bool, error) {
	// No stored entry carries a version <= 0, the condition can never hold
	if version <= 0 {
		return false, nil
	}
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewRemoveRequest(m.name, h, key, nil, version)
	})
	if err != nil {
		return false, err
	}
	return conditionOutcome("removeVersion", resp)
}

func (m *rpcMap) Replace(ctx context.Context, key string, value []byte) (*atomicmap.Versioned[[]byte], error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewReplaceRequest(m.name, h, key, nil, 0, value)
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == common.StatusWriteLock {
		return nil, atomicmap.NewError(atomicmap.RetCConcurrentModification, "replace: write conflict")
	}
	if resp.Status == common.StatusPreconditionFailed {
		return nil, nil // key absent, nothing replaced
	}
	return previous(resp), nil
}

func (m *rpcMap) ReplaceValue(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewReplaceRequest(m.name, h, key, oldValue, 0, newValue)
	})
	if err != nil {
		return false, err
	}
	return conditionOutcome("replaceValue", resp)
}

func (m *rpcMap) ReplaceVersion(ctx context.Context, key string, oldVersion int64, newValue []byte) (bool, error) {
	// No stored entry carries a version <= 0, the condition can never hold
	if oldVersion <= 0 {
		return false, nil
	}
	p := m.session.partitionFor(key)
	resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
		return common.NewReplaceRequest(m.name, h, key, nil, oldVersion, newValue)
	})
	if err != nil {
		return false, err
	}
	return conditionOutcome("replaceVersion", resp)
}

func (m *rpcMap) Clear(ctx context.Context) error {
	_, err := m.session.fanout(ctx, func(headers []common.Header) *common.Message {
		return common.NewClearRequest(m.name, headers)
	})
	return err
}

// --------------------------------------------------------------------------
// Compute-If
// --------------------------------------------------------------------------

// ComputeIf reads the current entry and applies the remap result with a
// write conditioned on exactly what was read: an only-if-absent put, a
// version-conditioned replace or a version-conditioned remove. Any racing
// writer surfaces as RetCConcurrentModification.
func (m *rpcMap) ComputeIf(
	ctx context.Context,
	key string,
	condition atomicmap.Condition[[]byte],
	remap atomicmap.RemapFunc[string, []byte],
) (*atomicmap.Versioned[[]byte], error) {
	current, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	present := current != nil
	var currentValue []byte
	if present {
		currentValue = current.Value
	}

	if !condition(currentValue, present) {
		return current, nil
	}

	next, keep := remap(key, currentValue, present)
	p := m.session.partitionFor(key)

	switch {
	case !present && keep:
		// Insert, conditioned on the key still being absent
		resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
			return common.NewPutRequest(m.name, h, key, next, -1, 0)
		})
		if err != nil {
			return nil, err
		}
		if resp.Status != common.StatusOK {
			return nil, atomicmap.NewError(atomicmap.RetCConcurrentModification,
				"computeIf: key was inserted concurrently")
		}
		return &atomicmap.Versioned[[]byte]{Value: next, Version: writtenVersion(resp)}, nil

	case present && keep:
		// Update, conditioned on the version that was read
		resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
			return common.NewReplaceRequest(m.name, h, key, nil, current.Version, next)
		})
		if err != nil {
			return nil, err
		}
		if resp.Status != common.StatusOK {
			return nil, atomicmap.NewError(atomicmap.RetCConcurrentModification,
				"computeIf: key was changed concurrently")
		}
		return &atomicmap.Versioned[[]byte]{Value: next, Version: writtenVersion(resp)}, nil

	case present && !keep:
		// Remove, conditioned on the version that was read
		resp, err := m.session.do(ctx, p, func(h *common.Header) *common.Message {
			return common.NewRemoveRequest(m.name, h, key, nil, current.Version)
		})
		if err != nil {
			return nil, err
		}
		if resp.Status != common.StatusOK {
			return nil, atomicmap.NewError(atomicmap.RetCConcurrentModification,
				"computeIf: key was changed concurrently")
		}
		return nil, nil

	default:
		// Absent and staying absent
		return nil, nil
	}
}

// --------------------------------------------------------------------------
// Views and Listeners
// --------------------------------------------------------------------------

func (m *rpcMap) KeySet() atomicmap.IDistributedSet[string] {
	return newKeySetView[string, []byte](m)
}

func (m *rpcMap) Values() atomicmap.IDistributedCollection[atomicmap.Versioned[[]byte]] {
	return newValuesView[string, []byte](m)
}

func (m *rpcMap) EntrySet() atomicmap.IDistributedSet[atomicmap.Entry[string, []byte]] {
	return newEntrySetView[string, []byte](m)
}

func (m *rpcMap) AddListener(ctx context.Context, listener chan<- atomicmap.Event[string, []byte]) error {
	return m.events.addListener(ctx, listener)
}

func (m *rpcMap) RemoveListener(_ context.Context, listener chan<- atomicmap.Event[string, []byte]) error {
	return m.events.removeListener(listener)
}

// --------------------------------------------------------------------------
// Entry Enumeration
// --------------------------------------------------------------------------

// entries streams a snapshot of all entries through fn. A non-nil fn error
// cancels the enumeration and is passed through.
func (m *rpcMap) entries(ctx context.Context, fn func(e atomicmap.Entry[string, []byte]) error) error {
	stream, err := m.session.openStream(common.NewEntriesRequest(m.name, m.session.headers()))
	if err != nil {
		return err
	}
	defer stream.Close()

	// Tear the stream down if the context goes away mid-enumeration
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-watchDone:
		}
	}()

	for {
		data, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return atomicmap.NewErrorf(atomicmap.RetCInternalError, "enumeration cancelled: %v", ctx.Err())
			}
			return atomicmap.NewErrorf(atomicmap.RetCInternalError, "enumeration failed: %v", err)
		}

		var msg common.Message
		if err := m.session.serializer.Deserialize(data, &msg); err != nil {
			return atomicmap.NewErrorf(atomicmap.RetCInternalError, "failed to decode entry: %v", err)
		}

		m.session.observe(msg.Header)

		if err := fn(atomicmap.Entry[string, []byte]{
			Key:   msg.Key,
			Value: atomicmap.Versioned[[]byte]{Value: msg.Value, Version: msg.Version},
		}); err != nil {
			return err
		}
	}
}

// --------------------------------------------------------------------------
// Response Helpers
// --------------------------------------------------------------------------

// previous extracts the previous versioned value of a write response, nil
// if the key was absent
func previous(resp *common.Message) *atomicmap.Versioned[[]byte] {
	if resp.PrevVersion == 0 {
		return nil
	}
	return &atomicmap.Versioned[[]byte]{Value: resp.PrevValue, Version: resp.PrevVersion}
}

// writtenVersion is the version assigned to the entry a response just
// wrote. Versions are drawn from the partition log index, which the
// response header snapshots at write time.
func writtenVersion(resp *common.Message) int64 {
	if resp.Header == nil {
		return 0
	}
	return int64(resp.Header.Index)
}

// checkConflict surfaces a backend write conflict as a typed error
func checkConflict(op string, resp *common.Message) error {
	if resp.Status == common.StatusWriteLock {
		return atomicmap.NewErrorf(atomicmap.RetCConcurrentModification, "%s: write conflict", op)
	}
	return nil
}

// conditionOutcome translates a conditioned write response into its boolean
// outcome: false when the condition did not hold (or the key was absent)
func conditionOutcome(op string, resp *common.Message) (bool, error) {
	switch resp.Status {
	case common.StatusOK:
		// An absent key satisfies no condition
		return resp.PrevVersion != 0, nil
	case common.StatusPreconditionFailed:
		return false, nil
	case common.StatusWriteLock:
		return false, atomicmap.NewErrorf(atomicmap.RetCConcurrentModification, "%s: write conflict", op)
	default:
		return false, atomicmap.NewErrorf(atomicmap.RetCInternalError, "%s: unexpected status %s", op, resp.Status)
	}
}
