package transport

import (
	"github.com/ValentinKolb/dMap/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming unary requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns a response
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// StreamHandleFunc is a function type that handles incoming stream requests.
// The handler pushes elements through the stream until it is done or the
// stream reports an error (e.g. the client cancelled). The transport layer
// terminates the stream once the handler returns, propagating a non-nil
// error to the client.
type StreamHandleFunc func(shardId uint64, req []byte, stream IServerStream) error

// IServerStream is the server side of a single open stream
type IServerStream interface {
	// Send pushes one element to the client. It returns an error if the
	// stream was cancelled or the connection failed.
	Send(data []byte) error
}

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a RPCServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for unary requests
	// This handler should be called when a request is received
	// The transport layer is responsible for routing the request to the appropriate shard
	RegisterHandler(handler ServerHandleFunc)
	// RegisterStreamHandler registers a handler for stream requests
	RegisterStreamHandler(handler StreamHandleFunc)
	// Listen starts the transport layer and listens for incoming requests
	Listen(config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientStream is the client side of a single open stream
type IClientStream interface {
	// Recv blocks until the next element arrives. It returns io.EOF once the
	// server has terminated the stream cleanly and a descriptive error if
	// the stream failed.
	Recv() ([]byte, error)
	// Close cancels the stream. Pending and future Recv calls return an error.
	Close() error
}

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a unary request to the server and returns the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// OpenStream sends a stream request to the server and returns the
	// client side of the opened stream
	OpenStream(shardId uint64, req []byte) (IClientStream, error)
	// Close closes the transport connection
	Close() error
}
