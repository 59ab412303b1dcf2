// Package server implements the RPC server for the distributed atomic map
// system. It hosts the in-memory partitioned map service and wires it to a
// transport and serializer, handling session lifecycle, versioned writes and
// server-push streams.
//
// The package focuses on:
//   - Server-side handling of all map protocol operations
//   - Partitioned storage with a per-partition log index that doubles as the
//     version source for stored entries
//   - Session tracking with keep-alive based expiry
//   - Change event fan-out to subscribed clients over long-lived streams
//
// Key Components:
//
//   - IMapService: Interface defining the contract of the map backend, with
//     Handle for unary requests and HandleStream for entry enumeration and
//     change event subscriptions.
//
//   - NewMapService: Factory function creating the in-memory backend. Every
//     command increments the owning partition's log index and stamps written
//     entries with it, so versions increase strictly per key. Entries with a
//     TTL are collected lazily on access.
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  ShardID:                     100,
//	  NumPartitions:               8,
//	  DefaultSessionTimeoutSecond: 30,
//	  Endpoint:                    "0.0.0.0:8080",
//	  TimeoutSecond:               5,
//	  LogLevel:                    "info",
//	}
//
//	// Create and start the server
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Start the server
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Consistency Model:
//
//	Each partition is guarded by a single mutex, so commands within a
//	partition are linearizable. Responses and events carry the partition's
//	log index, which the client uses to re-establish issue order across its
//	concurrent requests.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently. The Listen method is not thread-safe and should be called
//	only once.
package server
