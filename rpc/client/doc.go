// Package client implements the RPC client for the distributed atomic map
// primitive. It provides the atomicmap.IAtomicMap implementation that talks
// to remote map services via the configured transport layer.
//
// The package focuses on:
//   - Session management (create, keep-alive, close) against the map service
//   - Per-partition response sequencing so callers never observe stale results
//   - Key-based partition routing and fan-out operations across partitions
//   - Change event subscriptions and live map views (key set, values, entries)
//   - Transcoding between caller-facing types and the raw wire representation
//
// Key Components:
//
//   - NewRPCAtomicMap: Factory function that creates a raw (string, []byte)
//     map client for one named primitive. The client owns its session and
//     transport; Connect must be called before any data operation.
//
//   - NewTranscodingAtomicMap: Adapter that wraps a raw map client into an
//     atomicmap.IAtomicMap over arbitrary key and value types using codecs
//     from the atomicmap package.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  TimeoutSecond:        5,
//	  SessionTimeoutSecond: 30,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:5000"},
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	// Create the raw map client and connect its session
//	raw := client.NewRPCAtomicMap("orders", 1, config,
//	  tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	raw.Connect(ctx)
//
//	// Present it as a typed map
//	m := client.NewTranscodingAtomicMap[string, Order](raw,
//	  atomicmap.NewIdentityCodec[string](), atomicmap.NewJSONCodec[Order]())
//
//	// Use the map
//	m.Put(ctx, "order-1", order, 0)
//	v, _ := m.Get(ctx, "order-1")
//
// Ordering Guarantees:
//
//	Responses from the same partition are released to callers in issue order.
//	A caller that has observed the result of a write never observes an older
//	state of the same partition afterwards, including through events and
//	entry enumerations.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently
//	from multiple goroutines without additional synchronization.
package client
