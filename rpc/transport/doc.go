// Package transport defines the interfaces and abstractions for RPC communication
// in the distributed atomic map system. It provides a common contract that all
// transport implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Supporting shard-based request routing
//   - Carrying server-push streams (entry enumeration, change events) next to
//     unary request/response traffic on the same connection
//   - Enabling multiple transport implementations (TCP, Unix sockets, in-process)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management, unary request sending and stream opening.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - IClientStream/IServerStream: The two ends of a single open stream. The
//     server pushes elements until its handler returns, the client consumes
//     them until Recv returns io.EOF.
//
//   - ServerHandleFunc/StreamHandleFunc: Function types for request handling callbacks.
package transport
