package base

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverStream implements transport.IServerStream for one open stream
type serverStream struct {
	conn      net.Conn
	connMutex *sync.Mutex
	shardID   uint64
	requestID uint64
	timeout   time.Duration
	cancelled chan struct{}
}

func (s *serverStream) Send(data []byte) error {
	select {
	case <-s.cancelled:
		return fmt.Errorf("stream cancelled by client")
	default:
	}

	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	return writeFrame(s.conn, s.shardID, s.requestID, frameStreamItem, data)
}

// cancel marks the stream as cancelled by the client
func (s *serverStream) cancel() {
	select {
	case <-s.cancelled:
	default:
		close(s.cancelled)
	}
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	streamHandler     transport.StreamHandleFunc
	config            common.ServerConfig
	listener          net.Listener
	bufferPool        *sync.Pool
	bufferSize        int
	maxWorkersPerConn int
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {

	// minimum one worker per connection
	if maxWorkersPerConn < 1 {
		maxWorkersPerConn = 1
	}

	return &serverTransport{
		connector:         connector,
		bufferSize:        bufferSize,
		maxWorkersPerConn: maxWorkersPerConn,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterStreamHandler(handler transport.StreamHandleFunc) {
	t.streamHandler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Endpoint, t.maxWorkersPerConn)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection: %v", err)
			conn.Close()
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Timeout in seconds
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Create a semaphore to limit concurrent unary workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers and streams to finish
	var wg sync.WaitGroup

	// Create a mutex to protect writes to the connection
	var connMutex sync.Mutex

	// Streams opened on this connection, keyed by requestID
	streams := xsync.NewMapOf[uint64, *serverStream]()

	// Handler function that processes unary requests in worker goroutines
	handleResponse := func(shardID, requestID uint64, data []byte) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		// Process the request
		start := time.Now()
		resp := t.handler(shardID, data)
		Logger.Debugf("Processed request for shard %d with requestID %d took %s", shardID, requestID, time.Since(start))

		// Protect writes to the connection with a mutex
		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}

		// Write the response with the same requestID
		if err := writeFrame(conn, shardID, requestID, frameUnary, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	// Handler function that runs one stream until its handler returns
	handleStream := func(shardID, requestID uint64, data []byte) {
		stream := &serverStream{
			conn:      conn,
			connMutex: &connMutex,
			shardID:   shardID,
			requestID: requestID,
			timeout:   timeout,
			cancelled: make(chan struct{}),
		}
		streams.Store(requestID, stream)

		defer func() {
			streams.Delete(requestID)
			wg.Done()
		}()

		handlerErr := t.streamHandler(shardID, data, stream)

		// Terminate the stream, carrying the error message if any.
		// If the client cancelled there is no point in telling it.
		select {
		case <-stream.cancelled:
			return
		default:
		}

		var endPayload []byte
		if handlerErr != nil {
			endPayload = []byte(handlerErr.Error())
		}

		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, shardID, requestID, frameStreamEnd, endPayload); err != nil {
			Logger.Errorf("Failed to terminate stream: %v", err)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		// No read deadline here: connections carrying streams are expected
		// to be quiet between requests while events trickle out

		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame with requestID
		shardID, requestID, kind, data, err := readFrame(conn, buf)

		// Error reading frame
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		switch kind {
		case frameUnary:
			// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
			// This is the key mechanism that limits the number of concurrent workers
			workerSemaphore <- struct{}{}

			// Increment the wait group counter
			wg.Add(1)

			// Process in a goroutine
			go func() {
				defer t.bufferPool.Put(buf)
				handleResponse(shardID, requestID, data)
			}()

		case frameStreamOpen:
			if t.streamHandler == nil {
				t.bufferPool.Put(buf)
				connMutex.Lock()
				err := writeFrame(conn, shardID, requestID, frameStreamEnd, []byte("streams not supported"))
				connMutex.Unlock()
				return err
			}

			// Streams are long-running and not bound by the worker semaphore
			wg.Add(1)
			go func() {
				defer t.bufferPool.Put(buf)
				handleStream(shardID, requestID, data)
			}()

		case frameStreamCancel:
			t.bufferPool.Put(buf)
			if stream, found := streams.Load(requestID); found {
				stream.cancel()
			}

		default:
			t.bufferPool.Put(buf)
			Logger.Warningf("Received unexpected frame kind %d for request ID %d", kind, requestID)
		}

		return nil
	}

	// Handle requests in a loop
	for {
		// Handle request
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Infof("Connection closed by client")
			break
		}

		// Case error: log and close connection
		if err != nil {
			Logger.Errorf("Error handling request: %v", err)
			break
		}
	}

	// Cancel all remaining streams so their handlers return
	streams.Range(func(_ uint64, stream *serverStream) bool {
		stream.cancel()
		return true
	})

	// Wait for all workers to finish before closing the connection
	// This ensures we don't lose any in-progress work
	wg.Wait()
}
