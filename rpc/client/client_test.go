package client

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
	maptesting "github.com/ValentinKolb/dMap/lib/atomicmap/testing"
	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/serializer"
	"github.com/ValentinKolb/dMap/rpc/server"
	"github.com/ValentinKolb/dMap/rpc/transport"
	"github.com/ValentinKolb/dMap/rpc/transport/inprocess"
)

const testShardID = 1

func testClientConfig() common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond:        5,
		SessionTimeoutSecond: 10,
	}
}

// newBackedMap spins up an in-process server and returns a client for it
func newBackedMap(t *testing.T) atomicmap.IAtomicMap[string, []byte] {
	return newBackedMapWith(t, serializer.NewBinarySerializer())
}

// newBackedMapWith is newBackedMap with an explicit wire format
func newBackedMapWith(t *testing.T, ser serializer.IRPCSerializer) atomicmap.IAtomicMap[string, []byte] {
	t.Helper()

	tp := inprocess.NewInProcessTransport()
	serv := server.NewRPCServer(common.ServerConfig{
		ShardID:                     testShardID,
		NumPartitions:               4,
		DefaultSessionTimeoutSecond: 30,
		LogLevel:                    "error",
	}, tp, ser)

	if err := serv.Serve(); err != nil {
		t.Fatalf("failed to start in-process server: %v", err)
	}

	return NewRPCAtomicMap("test-map", testShardID, testClientConfig(), tp, ser)
}

// --------------------------------------------------------------------------
// Interface Conformance
// --------------------------------------------------------------------------

func Test(t *testing.T) {
	maptesting.RunAtomicMapTests(t, "RPCAtomicMap", func() atomicmap.IAtomicMap[string, []byte] {
		return newBackedMap(t)
	})
}

func TestJSONWireConformance(t *testing.T) {
	// The JSON wire format must uphold the same semantics as the binary one,
	// including the nil/empty distinction on condition values
	maptesting.RunAtomicMapTests(t, "RPCAtomicMapJSON", func() atomicmap.IAtomicMap[string, []byte] {
		return newBackedMapWith(t, serializer.NewJSONSerializer())
	})
}

func TestTranscodingConformance(t *testing.T) {
	// The transcoding adapter with identity codecs must behave exactly like
	// the raw map it wraps
	maptesting.RunAtomicMapTests(t, "TranscodingAtomicMap", func() atomicmap.IAtomicMap[string, []byte] {
		return NewTranscodingAtomicMap[string, []byte](
			newBackedMap(t),
			atomicmap.NewIdentityCodec[string](),
			atomicmap.NewIdentityCodec[[]byte](),
		)
	})
}

// --------------------------------------------------------------------------
// Transcoding
// --------------------------------------------------------------------------

type order struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

func TestTranscodingJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := NewTranscodingAtomicMap[string, order](
		newBackedMap(t),
		atomicmap.NewIdentityCodec[string](),
		atomicmap.NewJSONCodec[order](),
	)
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close(context.Background())

	prev, err := m.Put(ctx, "order-1", order{ID: "order-1", Qty: 2}, 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected no previous value, got %v", prev)
	}

	v, err := m.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil || v.Value.Qty != 2 {
		t.Errorf("Expected qty 2, got %v", v)
	}

	// Typed compute over the JSON representation
	result, err := m.ComputeIf(ctx, "order-1",
		func(_ order, _ bool) bool { return true },
		func(_ string, current order, present bool) (order, bool) {
			if !present {
				t.Errorf("Expected remap to see the order")
			}
			current.Qty++
			return current, true
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if result == nil || result.Value.Qty != 3 {
		t.Errorf("Expected qty 3, got %v", result)
	}

	// Typed events
	events := make(chan atomicmap.Event[string, order], 4)
	if err := m.AddListener(ctx, events); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
	// The subscription is established asynchronously
	time.Sleep(200 * time.Millisecond)

	if _, err := m.Put(ctx, "order-2", order{ID: "order-2", Qty: 1}, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != atomicmap.EventInserted {
			t.Errorf("Expected Inserted event, got %v", ev.Type)
		}
		if ev.NewValue == nil || ev.NewValue.Value.ID != "order-2" {
			t.Errorf("Expected decoded event value, got %v", ev.NewValue)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for typed event")
	}

	if err := m.RemoveListener(ctx, events); err != nil {
		t.Fatalf("RemoveListener failed: %v", err)
	}
}

type brokenDecodeCodec struct{}

func (brokenDecodeCodec) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (brokenDecodeCodec) Decode(_ []byte) (string, error) {
	return "", fmt.Errorf("decode is broken")
}

type brokenEncodeCodec struct{}

func (brokenEncodeCodec) Encode(_ string) ([]byte, error) {
	return nil, fmt.Errorf("encode is broken")
}
func (brokenEncodeCodec) Decode(b []byte) (string, error) { return string(b), nil }

func TestTranscodingCodecErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("DecodeFailure", func(t *testing.T) {
		m := NewTranscodingAtomicMap[string, string](
			newBackedMap(t),
			atomicmap.NewIdentityCodec[string](),
			brokenDecodeCodec{},
		)
		if err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer m.Close(context.Background())

		// Writing works, the decode side is what is broken
		if _, err := m.Put(ctx, "k", "v", 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		_, err := m.Get(ctx, "k")
		if atomicmap.CodeOf(err) != atomicmap.RetCCodec {
			t.Errorf("Expected RetCCodec from Get, got %v", err)
		}

		// A decode failure inside the compute callbacks surfaces the same way
		_, err = m.ComputeIf(ctx, "k",
			func(_ string, _ bool) bool { return true },
			func(_ string, current string, _ bool) (string, bool) { return current, true })
		if atomicmap.CodeOf(err) != atomicmap.RetCCodec {
			t.Errorf("Expected RetCCodec from ComputeIf, got %v", err)
		}
	})

	t.Run("EncodeFailure", func(t *testing.T) {
		m := NewTranscodingAtomicMap[string, string](
			newBackedMap(t),
			atomicmap.NewIdentityCodec[string](),
			brokenEncodeCodec{},
		)
		if err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer m.Close(context.Background())

		_, err := m.Put(ctx, "k", "v", 0)
		if atomicmap.CodeOf(err) != atomicmap.RetCCodec {
			t.Errorf("Expected RetCCodec from Put, got %v", err)
		}
	})
}

// --------------------------------------------------------------------------
// Write Conflicts
// --------------------------------------------------------------------------

// scriptedTransport answers every write with a write-lock conflict, which the
// client must surface as a concurrent modification error
type scriptedTransport struct {
	ser serializer.IRPCSerializer
}

func (s *scriptedTransport) Connect(_ common.ClientConfig) error { return nil }
func (s *scriptedTransport) Close() error                        { return nil }

func (s *scriptedTransport) OpenStream(_ uint64, _ []byte) (transport.IClientStream, error) {
	return nil, fmt.Errorf("streams not supported")
}

func (s *scriptedTransport) Send(_ uint64, req []byte) ([]byte, error) {
	var msg common.Message
	if err := s.ser.Deserialize(req, &msg); err != nil {
		return nil, err
	}

	h := &common.Header{PartitionID: 0, SessionID: 1, Index: 1}

	var resp *common.Message
	switch msg.MsgType {
	case common.MsgTCreate:
		resp = common.NewCreateResponse([]common.Header{{PartitionID: 0, SessionID: 1, Index: 0}}, nil)
	case common.MsgTKeepAlive:
		resp = common.NewKeepAliveResponse(msg.Headers, nil)
	case common.MsgTClose:
		resp = common.NewCloseResponse(nil)
	case common.MsgTPut:
		resp = common.NewPutResponse(common.StatusWriteLock, nil, 0, h, nil)
	case common.MsgTRemove:
		resp = common.NewRemoveResponse(common.StatusWriteLock, nil, 0, h, nil)
	case common.MsgTReplace:
		resp = common.NewReplaceResponse(common.StatusWriteLock, nil, 0, h, nil)
	default:
		resp = common.NewErrorResponse(fmt.Sprintf("unexpected message type %s", msg.MsgType))
	}

	return s.ser.Serialize(*resp)
}

func TestWriteConflictMapping(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ser := serializer.NewBinarySerializer()
	m := NewRPCAtomicMap("test-map", testShardID, testClientConfig(), &scriptedTransport{ser: ser}, ser)

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close(context.Background())

	if _, err := m.Put(ctx, "k", []byte("v"), 0); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from Put, got %v", err)
	}
	if _, err := m.PutIfAbsent(ctx, "k", []byte("v"), 0); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from PutIfAbsent, got %v", err)
	}
	if _, err := m.Remove(ctx, "k"); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from Remove, got %v", err)
	}
	if _, err := m.Replace(ctx, "k", []byte("v")); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from Replace, got %v", err)
	}
	if _, err := m.ReplaceValue(ctx, "k", []byte("a"), []byte("b")); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from ReplaceValue, got %v", err)
	}
	if _, err := m.RemoveVersion(ctx, "k", 1); atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
		t.Errorf("Expected RetCConcurrentModification from RemoveVersion, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestLifecycleGating(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := newBackedMap(t)

	// Operations before Connect fail without a round trip
	if _, err := m.Get(ctx, "k"); atomicmap.CodeOf(err) != atomicmap.RetCNotConnected {
		t.Errorf("Expected RetCNotConnected before Connect, got %v", err)
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := m.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Operations after Close fail without a round trip
	if _, err := m.Get(ctx, "k"); atomicmap.CodeOf(err) != atomicmap.RetCClosed {
		t.Errorf("Expected RetCClosed after Close, got %v", err)
	}
	if err := m.AddListener(ctx, make(chan atomicmap.Event[string, []byte])); atomicmap.CodeOf(err) != atomicmap.RetCClosed {
		t.Errorf("Expected RetCClosed from AddListener after Close, got %v", err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := newBackedMap(t)

	// Closing a map that never connected is a harmless no-op
	if err := m.Close(ctx); err != nil {
		t.Errorf("Expected Close before Connect to succeed, got %v", err)
	}

	// The map is closed for good afterwards
	if _, err := m.Get(ctx, "k"); atomicmap.CodeOf(err) != atomicmap.RetCClosed {
		t.Errorf("Expected RetCClosed after Close, got %v", err)
	}
	if err := m.Close(ctx); atomicmap.CodeOf(err) != atomicmap.RetCClosed {
		t.Errorf("Expected RetCClosed on a second Close, got %v", err)
	}
}

func TestKeepAliveIntervalStaysBelowTimeout(t *testing.T) {
	if got := keepAliveInterval(30); got != 15*time.Second {
		t.Errorf("Expected 15s for a 30s timeout, got %v", got)
	}
	if got := keepAliveInterval(1); got >= time.Second {
		t.Errorf("Expected the interval to stay below a 1s timeout, got %v", got)
	}
	if got := keepAliveInterval(0); got <= 0 {
		t.Errorf("Expected a positive fallback interval, got %v", got)
	}
}

func TestZeroVersionConditionsNeverHold(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := newBackedMap(t)
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close(context.Background())

	if _, err := m.Put(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Version 0 marks absence; no stored entry matches it
	if ok, err := m.ReplaceVersion(ctx, "k", 0, []byte("v2")); err != nil || ok {
		t.Errorf("Expected ReplaceVersion with version 0 to report false, got (%t, %v)", ok, err)
	}
	if ok, err := m.RemoveVersion(ctx, "k", 0); err != nil || ok {
		t.Errorf("Expected RemoveVersion with version 0 to report false, got (%t, %v)", ok, err)
	}

	v, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil || !bytes.Equal(v.Value, []byte("v1")) {
		t.Errorf("Expected zero-version writes to leave the entry alone, got %v", v)
	}
}

func TestResponseMonotonicity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := newBackedMap(t)
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close(context.Background())

	// A reader must never observe an older version of a key than one it has
	// already seen, even under concurrent writes to the same partition
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := m.Put(ctx, "k", []byte(fmt.Sprintf("v-%d", i)), 0); err != nil {
				t.Errorf("Put failed: %v", err)
				return
			}
		}
	}()

	var lastSeen int64
	for {
		select {
		case <-done:
			return
		default:
		}

		v, err := m.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v == nil {
			continue
		}
		if v.Version < lastSeen {
			t.Fatalf("observed version %d after already seeing %d", v.Version, lastSeen)
		}
		lastSeen = v.Version
	}
}

func TestPreviousValueRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := newBackedMap(t)
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Close(context.Background())

	if _, err := m.Put(ctx, "k", []byte("first"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	first, _ := m.Get(ctx, "k")

	prev, err := m.Put(ctx, "k", []byte("second"), 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if prev == nil || !bytes.Equal(prev.Value, []byte("first")) || prev.Version != first.Version {
		t.Errorf("Expected previous %v, got %v", first, prev)
	}
}
