package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dMap/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Session open request
		{
			MsgType:       common.MsgTCreate,
			Name:          "test-map",
			TimeoutMillis: 5000,
		},

		// Session open response with one header per partition
		{
			MsgType: common.MsgTCreate,
			Headers: []common.Header{
				{PartitionID: 0, SessionID: 17, Index: 4},
				{PartitionID: 1, SessionID: 23, Index: 9},
			},
		},

		// Put request with only-if-absent condition and TTL
		{
			MsgType:   common.MsgTPut,
			Name:      "test-map",
			Key:       "test-key",
			Value:     []byte("test-value"),
			Version:   -1,
			TTLMillis: 60000,
			Header:    &common.Header{PartitionID: 3, SessionID: 42, Index: 100},
		},

		// Get response
		{
			MsgType: common.MsgTGet,
			Value:   []byte("test-value"),
			Version: 7,
			Header:  &common.Header{PartitionID: 3, Index: 101},
		},

		// Replace response with conflict status and previous state
		{
			MsgType:     common.MsgTReplace,
			Status:      common.StatusPreconditionFailed,
			PrevValue:   []byte("old-value"),
			PrevVersion: 6,
			Header:      &common.Header{PartitionID: 0, Index: 55},
		},

		// Exists response
		{
			MsgType: common.MsgTExists,
			Ok:      true,
			Header:  &common.Header{PartitionID: 2, Index: 12},
		},

		// Size response
		{
			MsgType: common.MsgTSize,
			Count:   1234,
			Headers: []common.Header{{PartitionID: 0, Index: 8}},
		},

		// Events stream element
		{
			MsgType:     common.MsgTEvents,
			Key:         "watched-key",
			Value:       []byte("new-value"),
			Version:     9,
			PrevValue:   []byte("old-value"),
			PrevVersion: 8,
			EvType:      common.EventTUpdated,
			Header:      &common.Header{PartitionID: 1, Index: 77},
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTEvents; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestNegativeVersions verifies that the version condition sentinel survives
// every serialization format
func TestNegativeVersions(t *testing.T) {
	msg := common.Message{
		MsgType: common.MsgTPut,
		Key:     "k",
		Value:   []byte("v"),
		Version: -1,
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if result.Version != -1 {
				t.Errorf("Expected version -1, got %d", result.Version)
			}
		})
	}
}

// TestEmptyValueDistinctFromNil verifies that an empty byte field survives
// the round trip as empty, not nil. A nil condition value means
// "unconditioned", an empty one is a real condition, so the wire must keep
// them apart. Gob is exempt: it elides zero length slices by design.
func TestEmptyValueDistinctFromNil(t *testing.T) {
	for _, name := range []string{"JSON", "Binary"} {
		t.Run(name, func(t *testing.T) {
			serializer := testSerializers[name]()

			data, err := serializer.Serialize(common.Message{
				MsgType:   common.MsgTRemove,
				Key:       "k",
				Value:     []byte{},
				PrevValue: []byte{},
			})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if result.Value == nil || len(result.Value) != 0 {
				t.Errorf("Expected empty value to stay empty, got %v", result.Value)
			}
			if result.PrevValue == nil || len(result.PrevValue) != 0 {
				t.Errorf("Expected empty prev value to stay empty, got %v", result.PrevValue)
			}

			data, err = serializer.Serialize(common.Message{MsgType: common.MsgTRemove, Key: "k"})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var nilResult common.Message
			if err := serializer.Deserialize(data, &nilResult); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if nilResult.Value != nil {
				t.Errorf("Expected nil value to stay nil, got %v", nilResult.Value)
			}
			if nilResult.PrevValue != nil {
				t.Errorf("Expected nil prev value to stay nil, got %v", nilResult.PrevValue)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 2, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 4, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Truncated header block",
			data:        []byte{1, 0x20, 0, 0, 0, 0, 1}, // Header flag set but only 3 header bytes
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
