// Package base provides a foundation for transport layers in the distributed
// atomic map system, implementing core functionality for RPC communication
// independent of the specific network protocol (TCP, Unix sockets, etc.). It
// serves as a base layer that can be extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Performance optimization through connection pooling and buffer reuse
//   - Frame-based message protocol with shardID, requestID and frame kind tracking
//   - Automatic request routing and response correlation
//   - Multiplexing long-lived server-push streams and unary requests over the
//     same connection
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Core client implementation that manages multiple connections
//     with round-robin load balancing. Supports multiple connections per endpoint
//     for improved throughput.
//
//   - serverTransport: Core server implementation that accepts connections and
//     routes requests to the appropriate handler based on shardID and frame kind.
//     Unary requests are processed by a bounded per-connection worker pool;
//     streams run unbounded until their handler returns or the client cancels.
//
// Wire Format:
//
//	Every frame starts with a fixed 21 byte header: shardID (8 bytes),
//	requestID (8 bytes), frame kind (1 byte) and payload length (4 bytes).
//	The frame kind discriminates unary traffic from stream opens, stream
//	elements, stream terminations and stream cancellations.
//
// Performance Optimizations:
//
//   - Connection Pooling: Multiple connections per endpoint improve throughput
//     for high-load scenarios. This is particularly beneficial for large messages
//     where connection saturation becomes a bottleneck. For small messages (< 1KB),
//     a single connection per endpoint may actually perform better due to reduced
//     overhead.
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse buffers, reducing
//     GC pressure and memory allocations.
//
//   - Asynchronous Processing: The client sends requests and correlates responses
//     asynchronously using unique request IDs, enabling higher throughput.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client transport uses atomic operations
//	and mutexes to ensure concurrent access safety, while the server creates a
//	dedicated goroutine for each connection.
package base
