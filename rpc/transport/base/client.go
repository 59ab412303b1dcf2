package base

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"net"

	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a unary request
type responseResult struct {
	data []byte
	err  error
}

// streamFrame is one delivery on the client side of an open stream
type streamFrame struct {
	data []byte
	err  error
}

// clientStream implements transport.IClientStream on top of a connection's
// reader goroutine
type clientStream struct {
	requestID uint64
	shardID   uint64
	owner     *clientConnection
	recvCh    chan streamFrame
	done      chan struct{}
	closeOnce sync.Once
}

func (s *clientStream) Recv() ([]byte, error) {
	select {
	case frame := <-s.recvCh:
		return frame.data, frame.err
	case <-s.done:
		return nil, fmt.Errorf("stream closed")
	}
}

func (s *clientStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.owner.streams.Delete(s.requestID)

		// Tell the server to stop pushing. Best effort, the connection
		// may already be gone.
		s.owner.connMu.Lock()
		if s.owner.conn != nil {
			_ = writeFrame(s.owner.conn, s.shardID, s.requestID, frameStreamCancel, nil)
		}
		s.owner.connMu.Unlock()
	})
	return nil
}

// terminate delivers a final frame to the receiver and unregisters the stream
func (s *clientStream) terminate(err error) {
	s.owner.streams.Delete(s.requestID)
	select {
	case s.recvCh <- streamFrame{nil, err}:
	case <-s.done:
	}
}

// clientConnection represents a single net connection
type clientConnection struct {
	conn         net.Conn
	endpoint     string
	stopCh       chan struct{} // Close signal for the reader goroutine
	requestChans *xsync.MapOf[uint64, chan responseResult]
	streams      *xsync.MapOf[uint64, *clientStream]
	connMu       sync.Mutex // Protects the connection itself
	parent       *clientTransport
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
	nextRequestID uint64 // Atomic counter for unique request IDs
	stopping      bool   // Signals shutdown
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector:     connector,
		nextRequestID: 1, // Start from 1
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Store the config
	t.config = config
	t.stopping = false

	// Close all existing connections
	t.closeConnections()

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}

	// Create connections
	t.connections = make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)

	// Initialize client connections
	for _, endpoint := range config.Transport.Endpoints {
		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				conn:         nil, // Will be set by connect
				endpoint:     endpoint,
				stopCh:       make(chan struct{}),
				requestChans: xsync.NewMapOf[uint64, chan responseResult](),
				streams:      xsync.NewMapOf[uint64, *clientStream](),
				parent:       t,
			}

			// Establish the initial connection
			if err := clientConn.connect(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}

			// Add to our connections list
			t.connectionsMu.Lock()
			t.connections = append(t.connections, clientConn)
			t.connectionsMu.Unlock()

			Logger.Infof("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)

			// Start the response reader
			go clientConn.readResponses()
		}
	}

	// Check if we have at least one connection
	if len(t.connections) == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected to %d out of %d connections to %d endpoints using %s transport",
		len(t.connections), len(config.Transport.Endpoints)*connectionsPerEP, len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	connection := t.getNextConnection()
	if connection == nil {
		return nil, fmt.Errorf("no active connections available")
	}

	// Test if connection is still valid
	if connection.conn == nil {
		return nil, fmt.Errorf("connection is closed")
	}

	// Generate a unique request ID
	requestID := atomic.AddUint64(&t.nextRequestID, 1)

	// Create a channel for the response
	respCh := make(chan responseResult, 1)

	// Register the request
	connection.requestChans.Store(requestID, respCh)

	// Ensure we clean up when done
	defer connection.requestChans.Delete(requestID)

	// Set write timeout
	if t.config.TimeoutSecond > 0 {
		timeout := time.Duration(t.config.TimeoutSecond) * time.Second
		connection.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	// Lock the connection only for writing
	connection.connMu.Lock()
	writeErr := writeFrame(connection.conn, shardId, requestID, frameUnary, req)
	connection.connMu.Unlock()

	if writeErr != nil {
		return nil, writeErr
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if t.config.TimeoutSecond > 0 {
		timeout := time.Duration(t.config.TimeoutSecond) * time.Second
		timeoutCh = time.After(timeout)
	} else {
		timeoutCh = make(chan time.Time) // Never triggers
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request timed out")
	}
}

func (t *clientTransport) OpenStream(shardId uint64, req []byte) (transport.IClientStream, error) {
	connection := t.getNextConnection()
	if connection == nil {
		return nil, fmt.Errorf("no active connections available")
	}

	if connection.conn == nil {
		return nil, fmt.Errorf("connection is closed")
	}

	// Generate a unique request ID
	requestID := atomic.AddUint64(&t.nextRequestID, 1)

	stream := &clientStream{
		requestID: requestID,
		shardID:   shardId,
		owner:     connection,
		recvCh:    make(chan streamFrame, 128),
		done:      make(chan struct{}),
	}

	// Register the stream before opening so no element can be lost
	connection.streams.Store(requestID, stream)

	// Set write timeout
	if t.config.TimeoutSecond > 0 {
		timeout := time.Duration(t.config.TimeoutSecond) * time.Second
		connection.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	connection.connMu.Lock()
	err := writeFrame(connection.conn, shardId, requestID, frameStreamOpen, req)
	connection.connMu.Unlock()

	if err != nil {
		connection.streams.Delete(requestID)
		return nil, err
	}

	return stream, nil
}

func (t *clientTransport) Close() error {
	t.stopping = true
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}

	// Simple Round Robin algorithm
	var index uint64
	if len(t.connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	}
	return t.connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		// Signal reader goroutine to stop
		close(conn.stopCh)

		// Terminate all open streams
		conn.streams.Range(func(_ uint64, stream *clientStream) bool {
			stream.terminate(fmt.Errorf("transport closed"))
			return true
		})

		// Close the connection
		if conn.conn != nil {
			conn.conn.Close()
		}
	}

	// Empty the list
	t.connections = nil
}

// fail terminates every pending request and open stream with the given error
func (c *clientConnection) fail(err error) {
	c.requestChans.Range(func(_ uint64, ch chan responseResult) bool {
		select {
		case ch <- responseResult{nil, err}:
		default:
		}
		return true
	})
	c.streams.Range(func(_ uint64, stream *clientStream) bool {
		stream.terminate(err)
		return true
	})
}

// readResponses reads frames in a loop and distributes them to waiting
// requests and open streams
func (c *clientConnection) readResponses() {
	for {
		// Check if we should stop
		select {
		case <-c.stopCh:
			return
		default:
			// Continue
		}

		// Set timeout if configured. Connections with open streams are
		// exempt, elements may legitimately arrive far apart.
		if c.parent.config.TimeoutSecond > 0 && c.streams.Size() == 0 {
			timeout := time.Duration(c.parent.config.TimeoutSecond) * time.Second
			c.conn.SetReadDeadline(time.Now().Add(timeout))
		} else {
			c.conn.SetReadDeadline(time.Time{})
		}

		// Read the next frame. The buffer is handed off to the receiver,
		// so every frame gets its own allocation.
		shardID, requestID, kind, data, err := readFrame(c.conn, nil)

		if err != nil {
			// The connection is unusable, fail everything that waits on it
			select {
			case <-c.stopCh:
				return
			default:
			}

			Logger.Errorf("Connection to %s failed: %v", c.endpoint, err)
			c.fail(fmt.Errorf("connection failed: %v", err))
			return
		}

		switch kind {
		case frameUnary:
			// Find the corresponding request channel
			if respCh, found := c.requestChans.Load(requestID); found {
				respCh <- responseResult{data, nil}
			} else {
				// Warning for unknown request ID
				Logger.Warningf("Received response for unknown request ID %d with shard ID %d", requestID, shardID)
			}

		case frameStreamItem:
			if stream, found := c.streams.Load(requestID); found {
				select {
				case stream.recvCh <- streamFrame{data, nil}:
				case <-stream.done:
					// Receiver is gone, drop the element
				}
			}

		case frameStreamEnd:
			if stream, found := c.streams.Load(requestID); found {
				if len(data) > 0 {
					stream.terminate(fmt.Errorf("stream failed: %s", string(data)))
				} else {
					stream.terminate(io.EOF)
				}
			}

		default:
			Logger.Warningf("Received unexpected frame kind %d for request ID %d", kind, requestID)
		}
	}
}

// connect establishes the connection to the endpoint
func (c *clientConnection) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Close the old connection if it exists
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	// Connect to the endpoint
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	c.conn = conn
	return nil
}
