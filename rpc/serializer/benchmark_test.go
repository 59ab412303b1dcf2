package serializer

import (
	"testing"

	"github.com/ValentinKolb/dMap/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"GetRequest": {
			MsgType: common.MsgTGet,
			Name:    "bench-map",
			Key:     "medium-length-key-for-testing",
			Header:  &common.Header{PartitionID: 3, Index: 1000},
		},
		"SmallValue": {
			MsgType: common.MsgTPut,
			Name:    "bench-map",
			Key:     "key",
			Value:   []byte("v"),
			Header:  &common.Header{PartitionID: 0, SessionID: 42, Index: 1000},
		},
		"MediumValue": {
			MsgType: common.MsgTPut,
			Name:    "bench-map",
			Key:     "key",
			Value:   []byte("medium length value for testing serialization"),
			Header:  &common.Header{PartitionID: 0, SessionID: 42, Index: 1000},
		},
		"LargeValue": {
			MsgType: common.MsgTPut,
			Name:    "bench-map",
			Key:     "key",
			Value:   make([]byte, 1024), // 1KB of data
			Header:  &common.Header{PartitionID: 0, SessionID: 42, Index: 1000},
		},
		"VeryLargeValue": {
			MsgType: common.MsgTPut,
			Name:    "bench-map",
			Key:     "key",
			Value:   make([]byte, 1024*16), // 16KB of data
			Header:  &common.Header{PartitionID: 0, SessionID: 42, Index: 1000},
		},
		"EventElement": {
			MsgType:     common.MsgTEvents,
			Key:         "watched-key",
			Value:       []byte("new-value-data"),
			Version:     9,
			PrevValue:   []byte("old-value-data"),
			PrevVersion: 8,
			EvType:      common.EventTUpdated,
			Header:      &common.Header{PartitionID: 1, Index: 77},
		},
		"KeepAlive": {
			MsgType: common.MsgTKeepAlive,
			Name:    "bench-map",
			Headers: []common.Header{
				{PartitionID: 0, SessionID: 42, Index: 100},
				{PartitionID: 1, SessionID: 43, Index: 101},
				{PartitionID: 2, SessionID: 44, Index: 102},
				{PartitionID: 3, SessionID: 45, Index: 103},
			},
		},
		"ErrorMessage": {
			MsgType: common.MsgTError,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}
				b.ResetTimer()

				var result common.Message
				for i := 0; i < b.N; i++ {
					if err := serializer.Deserialize(data, &result); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
