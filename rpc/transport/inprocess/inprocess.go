package inprocess

import (
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/transport"
)

// --------------------------------------------------------------------------
// In-Process Transport
// --------------------------------------------------------------------------

// inProcessTransport connects a client directly to a server's handlers
// without any sockets or serdes-crossing copies. It implements both the
// client and the server side of the transport contract.
type inProcessTransport struct {
	mu            sync.RWMutex
	handler       transport.ServerHandleFunc
	streamHandler transport.StreamHandleFunc
	connected     bool
}

// NewInProcessTransport creates a transport that dispatches requests
// directly to the registered handlers. Register the handlers (server side),
// then Connect (client side). Listen is a no-op kept for interface parity.
func NewInProcessTransport() interface {
	transport.IRPCClientTransport
	transport.IRPCServerTransport
} {
	return &inProcessTransport{}
}

// --------------------------------------------------------------------------
// Server Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *inProcessTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *inProcessTransport) RegisterStreamHandler(handler transport.StreamHandleFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamHandler = handler
}

func (t *inProcessTransport) Listen(_ common.ServerConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Client Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *inProcessTransport) Connect(_ common.ClientConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.connected = true
	return nil
}

func (t *inProcessTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	t.mu.RLock()
	handler, connected := t.handler, t.connected
	t.mu.RUnlock()

	if !connected {
		return nil, fmt.Errorf("transport not connected")
	}
	return handler(shardId, req), nil
}

func (t *inProcessTransport) OpenStream(shardId uint64, req []byte) (transport.IClientStream, error) {
	t.mu.RLock()
	streamHandler, connected := t.streamHandler, t.connected
	t.mu.RUnlock()

	if !connected {
		return nil, fmt.Errorf("transport not connected")
	}
	if streamHandler == nil {
		return nil, fmt.Errorf("streams not supported")
	}

	stream := &inProcessStream{
		ch:   make(chan streamElement, 128),
		done: make(chan struct{}),
	}

	// Run the handler concurrently, exactly like a remote server would
	go func() {
		err := streamHandler(shardId, req, stream)
		if err == nil {
			err = io.EOF
		}
		select {
		case stream.ch <- streamElement{nil, err}:
		case <-stream.done:
		}
	}()

	return stream, nil
}

func (t *inProcessTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// --------------------------------------------------------------------------
// Stream Implementation
// --------------------------------------------------------------------------

// streamElement is one delivery on an in-process stream
type streamElement struct {
	data []byte
	err  error
}

// inProcessStream implements both stream sides over a single channel
type inProcessStream struct {
	ch        chan streamElement
	done      chan struct{}
	closeOnce sync.Once
}

func (s *inProcessStream) Send(data []byte) error {
	select {
	case s.ch <- streamElement{data, nil}:
		return nil
	case <-s.done:
		return fmt.Errorf("stream cancelled by client")
	}
}

func (s *inProcessStream) Recv() ([]byte, error) {
	select {
	case elem := <-s.ch:
		return elem.data, elem.err
	case <-s.done:
		return nil, fmt.Errorf("stream closed")
	}
}

func (s *inProcessStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}
