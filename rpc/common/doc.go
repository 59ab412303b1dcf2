// Package common provides core data structures and utilities shared across
// the distributed atomic map system. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for inter-component communication
//   - Per-partition ordering headers carried by every response
//   - Configuration structures for client and server components
//   - Custom logging implementation built on the Dragonboat logging facade
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between
//     components, with a flexible structure that adapts to different
//     operation types, including the elements of the entries and events
//     server-push streams. Includes factory methods for creating various
//     request and response messages.
//
//   - Header: Per-partition ordering metadata (partition id, session id, log
//     index) attached to requests and responses. Headers sequence responses
//     and keep sessions alive; they never carry business data.
//
//   - MessageType: Enumeration defining all supported operation types in the
//     system, categorized into session operations, map operations, and
//     streaming operations.
//
//   - Status: Outcome of a conditioned write (ok, write lock, precondition
//     failed), the basis for surfacing concurrent-modification conflicts.
//
//   - ServerConfig / ClientConfig: Configuration for the map service server
//     and for client components, controlling partitioning, session timeouts,
//     connection parameters and transport buffers.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the
//     application.
package common
