package server

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMap/rpc/common"
)

const testMapName = "test-map"

// newTestService creates a service with a session and returns both
func newTestService(t *testing.T, numPartitions int) (IMapService, []common.Header) {
	t.Helper()

	svc := NewMapService(numPartitions, 30*time.Second)
	t.Cleanup(svc.Stop)

	resp := svc.Handle(common.NewCreateRequest(testMapName, 0))
	if resp.Err != "" {
		t.Fatalf("create failed: %s", resp.Err)
	}
	if len(resp.Headers) != numPartitions {
		t.Fatalf("expected %d headers, got %d", numPartitions, len(resp.Headers))
	}
	return svc, resp.Headers
}

func put(svc IMapService, h common.Header, key string, value []byte, version int64, ttlMillis uint64) *common.Message {
	return svc.Handle(common.NewPutRequest(testMapName, &h, key, value, version, ttlMillis))
}

func get(svc IMapService, h common.Header, key string) *common.Message {
	return svc.Handle(common.NewGetRequest(testMapName, &h, key))
}

func TestServiceSessionLifecycle(t *testing.T) {
	svc, headers := newTestService(t, 4)

	sessionID := headers[0].SessionID
	for _, h := range headers {
		if h.SessionID != sessionID {
			t.Errorf("expected one session id across partitions, got %d and %d", sessionID, h.SessionID)
		}
	}

	// Keep-alive refreshes and reports current indexes
	resp := svc.Handle(common.NewKeepAliveRequest(testMapName, headers))
	if resp.Err != "" {
		t.Fatalf("keep-alive failed: %s", resp.Err)
	}
	if len(resp.Headers) != len(headers) {
		t.Errorf("expected %d refreshed headers, got %d", len(headers), len(resp.Headers))
	}

	// Close destroys the session
	resp = svc.Handle(common.NewCloseRequest(testMapName, headers))
	if resp.Err != "" {
		t.Fatalf("close failed: %s", resp.Err)
	}

	// Writes under a destroyed session are rejected
	resp = put(svc, headers[0], "k", []byte("v"), 0, 0)
	if resp.Err == "" || !strings.Contains(resp.Err, "not found") {
		t.Errorf("expected a session-not-found error, got %q", resp.Err)
	}

	// Keep-alive for a destroyed session is rejected the same way
	resp = svc.Handle(common.NewKeepAliveRequest(testMapName, headers))
	if resp.Err == "" || !strings.Contains(resp.Err, "not found") {
		t.Errorf("expected a session-not-found error, got %q", resp.Err)
	}
}

func TestServiceVersionsComeFromPartitionIndex(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	resp := put(svc, h, "k", []byte("v1"), 0, 0)
	if resp.Err != "" || resp.Status != common.StatusOK {
		t.Fatalf("put failed: err=%q status=%v", resp.Err, resp.Status)
	}
	if resp.Header == nil {
		t.Fatalf("expected a response header")
	}
	writeIndex := resp.Header.Index

	// The entry's version equals the log index the write was assigned
	resp = get(svc, h, "k")
	if resp.Version != int64(writeIndex) {
		t.Errorf("expected version %d, got %d", writeIndex, resp.Version)
	}

	// The next write on the same partition gets a strictly higher version
	resp = put(svc, h, "k2", []byte("v2"), 0, 0)
	if resp.Header.Index <= writeIndex {
		t.Errorf("expected index to increase: %d -> %d", writeIndex, resp.Header.Index)
	}
}

func TestServicePutSemantics(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	// Plain put reports the previous value
	put(svc, h, "k", []byte("v1"), 0, 0)
	resp := put(svc, h, "k", []byte("v2"), 0, 0)
	if resp.Status != common.StatusOK {
		t.Fatalf("expected StatusOK, got %v", resp.Status)
	}
	if !bytes.Equal(resp.PrevValue, []byte("v1")) || resp.PrevVersion == 0 {
		t.Errorf("expected previous value v1 with a version, got %s/%d", resp.PrevValue, resp.PrevVersion)
	}

	// Only-if-absent put loses against a present key and returns the winner
	resp = put(svc, h, "k", []byte("v3"), -1, 0)
	if resp.Status != common.StatusPreconditionFailed {
		t.Errorf("expected StatusPreconditionFailed, got %v", resp.Status)
	}
	if !bytes.Equal(resp.PrevValue, []byte("v2")) {
		t.Errorf("expected winning value v2, got %s", resp.PrevValue)
	}

	// The losing write must not have changed the entry
	if resp := get(svc, h, "k"); !bytes.Equal(resp.Value, []byte("v2")) {
		t.Errorf("expected stored value v2, got %s", resp.Value)
	}

	// Only-if-absent put wins against an absent key
	resp = put(svc, h, "fresh", []byte("v"), -1, 0)
	if resp.Status != common.StatusOK || resp.PrevVersion != 0 {
		t.Errorf("expected clean insert, got status=%v prevVersion=%d", resp.Status, resp.PrevVersion)
	}
}

func TestServiceConditionedRemove(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	put(svc, h, "k", []byte("v"), 0, 0)
	stored := get(svc, h, "k")

	// Wrong value
	resp := svc.Handle(common.NewRemoveRequest(testMapName, &h, "k", []byte("wrong"), 0))
	if resp.Status != common.StatusPreconditionFailed {
		t.Errorf("expected StatusPreconditionFailed for wrong value, got %v", resp.Status)
	}

	// Wrong version
	resp = svc.Handle(common.NewRemoveRequest(testMapName, &h, "k", nil, stored.Version+1))
	if resp.Status != common.StatusPreconditionFailed {
		t.Errorf("expected StatusPreconditionFailed for wrong version, got %v", resp.Status)
	}

	// Matching version removes and reports the removed value
	resp = svc.Handle(common.NewRemoveRequest(testMapName, &h, "k", nil, stored.Version))
	if resp.Status != common.StatusOK || !bytes.Equal(resp.PrevValue, []byte("v")) {
		t.Errorf("expected successful removal of v, got status=%v value=%s", resp.Status, resp.PrevValue)
	}

	// Removing an absent key succeeds with no previous entry
	resp = svc.Handle(common.NewRemoveRequest(testMapName, &h, "k", nil, 0))
	if resp.Status != common.StatusOK || resp.PrevVersion != 0 {
		t.Errorf("expected no-op removal, got status=%v prevVersion=%d", resp.Status, resp.PrevVersion)
	}
}

func TestServiceConditionedReplace(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	// Replace on an absent key fails with PrevVersion zero marking absence
	resp := svc.Handle(common.NewReplaceRequest(testMapName, &h, "k", nil, 0, []byte("v")))
	if resp.Status != common.StatusPreconditionFailed || resp.PrevVersion != 0 {
		t.Errorf("expected precondition failure with prevVersion 0, got status=%v prevVersion=%d",
			resp.Status, resp.PrevVersion)
	}
	if resp := get(svc, h, "k"); resp.Version != 0 {
		t.Errorf("replace on an absent key must not insert")
	}

	put(svc, h, "k", []byte("v1"), 0, 0)
	stored := get(svc, h, "k")

	// A failed condition still reports the current entry
	resp = svc.Handle(common.NewReplaceRequest(testMapName, &h, "k", []byte("wrong"), 0, []byte("v2")))
	if resp.Status != common.StatusPreconditionFailed || resp.PrevVersion != stored.Version {
		t.Errorf("expected precondition failure carrying the current entry, got status=%v prevVersion=%d",
			resp.Status, resp.PrevVersion)
	}

	// Matching version replaces
	resp = svc.Handle(common.NewReplaceRequest(testMapName, &h, "k", nil, stored.Version, []byte("v2")))
	if resp.Status != common.StatusOK {
		t.Errorf("expected successful replace, got %v", resp.Status)
	}
	if resp := get(svc, h, "k"); !bytes.Equal(resp.Value, []byte("v2")) {
		t.Errorf("expected stored value v2, got %s", resp.Value)
	}
}

func TestServiceTTLExpiry(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	put(svc, h, "expiring", []byte("v"), 0, 30)
	put(svc, h, "persistent", []byte("v"), 0, 0)

	time.Sleep(80 * time.Millisecond)

	if resp := get(svc, h, "expiring"); resp.Version != 0 {
		t.Errorf("expected expired key to read as absent, got version %d", resp.Version)
	}
	if resp := svc.Handle(common.NewExistsRequest(testMapName, &h, "expiring")); resp.Ok {
		t.Errorf("expected expired key to not exist")
	}
	if resp := get(svc, h, "persistent"); resp.Version == 0 {
		t.Errorf("key without TTL must not expire")
	}

	// Size also collects expired entries
	resp := svc.Handle(common.NewSizeRequest(testMapName, headers))
	if resp.Count != 1 {
		t.Errorf("expected size 1 after expiry, got %d", resp.Count)
	}

	// A replacement keeps the entry's expiry
	put(svc, h, "short", []byte("v1"), 0, 50)
	stored := get(svc, h, "short")
	svc.Handle(common.NewReplaceRequest(testMapName, &h, "short", nil, stored.Version, []byte("v2")))

	time.Sleep(100 * time.Millisecond)
	if resp := get(svc, h, "short"); resp.Version != 0 {
		t.Errorf("expected replaced entry to keep its expiry")
	}
}

func TestServiceSizeAndClearSpanPartitions(t *testing.T) {
	svc, headers := newTestService(t, 4)

	// One key per partition
	for i, h := range headers {
		resp := put(svc, h, fmt.Sprintf("key-%d", i), []byte("v"), 0, 0)
		if resp.Err != "" {
			t.Fatalf("put failed: %s", resp.Err)
		}
	}

	resp := svc.Handle(common.NewSizeRequest(testMapName, headers))
	if resp.Count != 4 {
		t.Errorf("expected size 4, got %d", resp.Count)
	}

	resp = svc.Handle(common.NewClearRequest(testMapName, headers))
	if resp.Err != "" {
		t.Fatalf("clear failed: %s", resp.Err)
	}

	resp = svc.Handle(common.NewSizeRequest(testMapName, headers))
	if resp.Count != 0 {
		t.Errorf("expected size 0 after clear, got %d", resp.Count)
	}
}

func TestServiceEntriesStream(t *testing.T) {
	svc, headers := newTestService(t, 4)

	const numKeys = 12
	for i := 0; i < numKeys; i++ {
		h := headers[i%len(headers)]
		put(svc, h, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 0, 0)
	}

	var elements []*common.Message
	err := svc.HandleStream(common.NewEntriesRequest(testMapName, headers), func(elem *common.Message) error {
		elements = append(elements, elem)
		return nil
	})
	if err != nil {
		t.Fatalf("entries stream failed: %v", err)
	}

	if len(elements) != numKeys {
		t.Errorf("expected %d streamed entries, got %d", numKeys, len(elements))
	}
	for _, elem := range elements {
		if elem.Version <= 0 {
			t.Errorf("expected entry %q to carry a version", elem.Key)
		}
		if elem.Header == nil {
			t.Errorf("expected entry %q to carry an ordering header", elem.Key)
		}
	}

	// A cancelled sink ends the stream cleanly
	err = svc.HandleStream(common.NewEntriesRequest(testMapName, headers), func(_ *common.Message) error {
		return fmt.Errorf("cancelled")
	})
	if err != nil {
		t.Errorf("expected clean end on client cancel, got %v", err)
	}
}

func TestServiceEventsStream(t *testing.T) {
	svc, headers := newTestService(t, 2)
	h := headers[0]

	events := make(chan *common.Message, 16)
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- svc.HandleStream(common.NewEventsRequest(testMapName, headers), func(elem *common.Message) error {
			events <- elem
			return nil
		})
	}()

	// Give the watcher a moment to register on all partitions
	time.Sleep(100 * time.Millisecond)

	put(svc, h, "k", []byte("v1"), 0, 0)
	put(svc, h, "k", []byte("v2"), 0, 0)
	svc.Handle(common.NewRemoveRequest(testMapName, &h, "k", nil, 0))

	expect := func(evType common.EventType) *common.Message {
		select {
		case ev := <-events:
			if ev.EvType != evType {
				t.Errorf("expected event type %v, got %v", evType, ev.EvType)
			}
			return ev
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %v event", evType)
			return nil
		}
	}

	ins := expect(common.EventTInserted)
	if ins.Key != "k" || !bytes.Equal(ins.Value, []byte("v1")) {
		t.Errorf("unexpected insert event: key=%s value=%s", ins.Key, ins.Value)
	}

	upd := expect(common.EventTUpdated)
	if !bytes.Equal(upd.PrevValue, []byte("v1")) || !bytes.Equal(upd.Value, []byte("v2")) {
		t.Errorf("unexpected update event: prev=%s new=%s", upd.PrevValue, upd.Value)
	}

	rem := expect(common.EventTRemoved)
	if !bytes.Equal(rem.PrevValue, []byte("v2")) {
		t.Errorf("unexpected remove event: prev=%s", rem.PrevValue)
	}

	// Destroying the session terminates the event stream
	svc.Handle(common.NewCloseRequest(testMapName, headers))

	select {
	case err := <-streamDone:
		if err == nil {
			t.Errorf("expected the stream to terminate with an error after session close")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("event stream did not terminate after session close")
	}
}

func TestServiceEventsStreamOverflow(t *testing.T) {
	svc, headers := newTestService(t, 1)
	h := headers[0]

	gate := make(chan struct{})
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- svc.HandleStream(common.NewEventsRequest(testMapName, headers), func(_ *common.Message) error {
			<-gate // a consumer that never keeps up
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)

	// Overrun the watcher's buffer; the write path must never block on it
	for i := 0; i < 400; i++ {
		resp := put(svc, h, fmt.Sprintf("key-%d", i), []byte("v"), 0, 0)
		if resp.Err != "" {
			t.Fatalf("put failed: %s", resp.Err)
		}
	}

	// Unblock the consumer; the failed watcher now surfaces as a stream error
	close(gate)

	select {
	case err := <-streamDone:
		if err == nil {
			t.Errorf("expected an overflowed event stream to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("overflowed event stream did not terminate")
	}
}

func TestServiceUnknownPartitionAndType(t *testing.T) {
	svc, _ := newTestService(t, 2)

	resp := svc.Handle(common.NewGetRequest(testMapName, &common.Header{PartitionID: 99}, "k"))
	if resp.Err == "" {
		t.Errorf("expected an error for an unknown partition")
	}

	resp = svc.Handle(&common.Message{MsgType: common.MsgTUnknown})
	if resp.Err == "" {
		t.Errorf("expected an error for an unsupported message type")
	}
}
