// Package inprocess implements a transport that wires a client directly to a
// server's handlers inside the same process, bypassing sockets and frame
// encoding entirely. It is primarily used by tests and by applications that
// embed the map service.
//
// The transport implements both transport.IRPCClientTransport and
// transport.IRPCServerTransport on a single value: register the server
// handlers first, then Connect the client side. Streams run their handler in
// a dedicated goroutine and deliver elements through a buffered channel,
// preserving the remote transport's concurrency behavior.
package inprocess
