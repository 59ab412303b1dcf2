// Package rpc provides a comprehensive framework for remote procedure calls
// in the distributed atomic map system. It acts as the communication layer
// between clients and map services, enabling operations across network
// boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, in-process) supporting unary calls and server streams.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: The RPC client implementing the atomicmap.IAtomicMap interface,
//     including session management, response sequencing and event subscriptions.
//
//   - server: The RPC server hosting the partitioned map service that handles
//     incoming requests and event streams.
package rpc
