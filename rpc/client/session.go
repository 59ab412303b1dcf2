package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/serializer"
	"github.com/ValentinKolb/dMap/rpc/transport"
)

// --------------------------------------------------------------------------
// Session State
// --------------------------------------------------------------------------

// SessionState is the lifecycle state of a client session
type SessionState int32

const (
	StateUnconnected SessionState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// session owns the lifecycle of one primitive's server session: the
// per-partition session ids and sequencers, the keep-alive task and the
// request plumbing shared by all operations.
type session struct {
	name       string
	shardID    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	state      atomic.Int32
	partitions []*partitionState

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}
}

func newSession(
	name string,
	shardID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *session {
	return &session{
		name:       name,
		shardID:    shardID,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
}

func (s *session) currentState() SessionState {
	return SessionState(s.state.Load())
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// open connects the transport, creates the server session and starts the
// keep-alive task
func (s *session) open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUnconnected), int32(StateConnecting)) {
		return atomicmap.NewErrorf(atomicmap.RetCInternalError,
			"session for %q is %s, expected unconnected", s.name, s.currentState())
	}

	if err := s.transport.Connect(s.config); err != nil {
		s.state.Store(int32(StateUnconnected))
		return atomicmap.NewErrorf(atomicmap.RetCNotConnected, "failed to connect: %v", err)
	}

	timeoutMillis := uint64(s.config.SessionTimeoutSecond) * 1000
	resp, err := s.invoke(ctx, common.NewCreateRequest(s.name, timeoutMillis))
	if err != nil {
		s.state.Store(int32(StateUnconnected))
		_ = s.transport.Close()
		return err
	}

	if len(resp.Headers) == 0 {
		s.state.Store(int32(StateUnconnected))
		_ = s.transport.Close()
		return atomicmap.NewError(atomicmap.RetCInternalError, "create response carries no headers")
	}

	// Build the partition table from the response headers
	headers := make([]common.Header, len(resp.Headers))
	copy(headers, resp.Headers)
	sort.Slice(headers, func(i, j int) bool { return headers[i].PartitionID < headers[j].PartitionID })

	s.partitions = make([]*partitionState, len(headers))
	for i, h := range headers {
		s.partitions[i] = &partitionState{
			id:        h.PartitionID,
			sessionID: h.SessionID,
			seq:       newSequencer(h.Index),
		}
	}

	s.keepAliveStop = make(chan struct{})
	s.keepAliveDone = make(chan struct{})
	s.state.Store(int32(StateConnected))

	go s.keepAliveLoop()

	Logger.Infof("opened session for %q across %d partitions", s.name, len(s.partitions))
	return nil
}

// close stops the keep-alive task, destroys the server session and closes
// the transport
func (s *session) close(ctx context.Context) error {
	// A session that never connected has nothing to tear down
	if s.state.CompareAndSwap(int32(StateUnconnected), int32(StateClosed)) {
		return nil
	}

	swapped := s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) ||
		s.state.CompareAndSwap(int32(StateExpired), int32(StateClosing))
	if !swapped {
		return atomicmap.NewErrorf(atomicmap.RetCClosed,
			"session for %q is %s, nothing to close", s.name, s.currentState())
	}

	close(s.keepAliveStop)
	<-s.keepAliveDone

	// Destroy the server session. Best effort: an expired session is
	// already gone.
	_, err := s.invoke(ctx, common.NewCloseRequest(s.name, s.headers()))
	if err != nil && atomicmap.CodeOf(err) != atomicmap.RetCSessionExpired {
		Logger.Warningf("failed to destroy session for %q: %v", s.name, err)
	}

	s.state.Store(int32(StateClosed))
	return s.transport.Close()
}

// ensureConnected gates every data operation on the session lifecycle
func (s *session) ensureConnected() error {
	switch s.currentState() {
	case StateConnected:
		return nil
	case StateExpired:
		return atomicmap.NewErrorf(atomicmap.RetCSessionExpired, "session for %q expired", s.name)
	case StateClosing, StateClosed:
		return atomicmap.NewErrorf(atomicmap.RetCClosed, "session for %q is closed", s.name)
	default:
		return atomicmap.NewErrorf(atomicmap.RetCNotConnected, "session for %q is not connected", s.name)
	}
}

// --------------------------------------------------------------------------
// Request Plumbing
// --------------------------------------------------------------------------

// partitionFor routes a key to its partition state
func (s *session) partitionFor(key string) *partitionState {
	return s.partitions[partitionForKey(key, len(s.partitions))]
}

// headers snapshots the ordering metadata of all partitions
func (s *session) headers() []common.Header {
	headers := make([]common.Header, len(s.partitions))
	for i, p := range s.partitions {
		headers[i] = common.Header{
			PartitionID: p.id,
			SessionID:   p.sessionID,
			Index:       p.seq.current(),
		}
	}
	return headers
}

// invoke performs one raw round trip without any ordering. The context only
// abandons the wait; the request itself is not recalled from the wire.
func (s *session) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	start := time.Now()
	resp, err := s.invokeRaw(ctx, req)
	observeRequest(req.MsgType.String(), start, err)
	return resp, err
}

func (s *session) invokeRaw(ctx context.Context, req *common.Message) (*common.Message, error) {
	reqBytes, err := s.serializer.Serialize(*req)
	if err != nil {
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "failed to serialize request: %v", err)
	}

	type sendResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan sendResult, 1)

	go func() {
		data, err := s.transport.Send(s.shardID, reqBytes)
		resultCh <- sendResult{data, err}
	}()

	var respBytes []byte
	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "request failed: %v", result.err)
		}
		respBytes = result.data
	case <-ctx.Done():
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "request cancelled: %v", ctx.Err())
	}

	resp := &common.Message{}
	if err := s.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "failed to deserialize response: %v", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, s.classifyError(resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError,
			"unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// classifyError maps a server-reported failure to a typed error. A session
// the server no longer knows moves the whole client session to expired.
func (s *session) classifyError(msg string) error {
	if strings.Contains(msg, "session") && strings.Contains(msg, "not found") {
		if s.state.CompareAndSwap(int32(StateConnected), int32(StateExpired)) {
			Logger.Errorf("session for %q expired on server", s.name)
		}
		return atomicmap.NewErrorf(atomicmap.RetCSessionExpired, "session for %q expired: %s", s.name, msg)
	}
	return atomicmap.NewError(atomicmap.RetCInternalError, msg)
}

// do performs one sequenced round trip against a single partition. The build
// callback receives the request header carrying partition id, session id and
// the current index watermark.
func (s *session) do(ctx context.Context, p *partitionState, build func(h *common.Header) *common.Message) (*common.Message, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}

	h := &common.Header{
		PartitionID: p.id,
		SessionID:   p.sessionID,
		Index:       p.seq.current(),
	}

	ticket := p.seq.enter()

	resp, err := s.invoke(ctx, build(h))
	if err != nil {
		p.seq.abort(ticket)
		return nil, err
	}

	var respIndex uint64
	if resp.Header != nil {
		respIndex = resp.Header.Index
	}
	p.seq.order(ticket, respIndex)

	return resp, nil
}

// fanout performs one sequenced round trip that spans all partitions
// (size, clear, keep-alive). Tickets are taken on every partition in
// ascending order and completed with the per-partition indexes of the
// response.
func (s *session) fanout(ctx context.Context, build func(headers []common.Header) *common.Message) (*common.Message, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}

	headers := s.headers()

	tickets := make([]uint64, len(s.partitions))
	for i, p := range s.partitions {
		tickets[i] = p.seq.enter()
	}

	resp, err := s.invoke(ctx, build(headers))
	if err != nil {
		for i, p := range s.partitions {
			p.seq.abort(tickets[i])
		}
		return nil, err
	}

	// Index the response headers by partition
	byPartition := make(map[uint32]uint64, len(resp.Headers))
	for _, h := range resp.Headers {
		byPartition[h.PartitionID] = h.Index
	}

	for i, p := range s.partitions {
		p.seq.order(tickets[i], byPartition[p.id])
	}

	return resp, nil
}

// openStream opens a server-push stream (entries, events) on the shard.
// Streams bypass the ticket order; their elements fold indexes into the
// watermark via observe.
func (s *session) openStream(req *common.Message) (transport.IClientStream, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}

	reqBytes, err := s.serializer.Serialize(*req)
	if err != nil {
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "failed to serialize stream request: %v", err)
	}

	stream, err := s.transport.OpenStream(s.shardID, reqBytes)
	if err != nil {
		return nil, atomicmap.NewErrorf(atomicmap.RetCInternalError, "failed to open stream: %v", err)
	}
	return stream, nil
}

// observe folds a stream element's header into the owning partition's
// watermark
func (s *session) observe(h *common.Header) {
	if h == nil || int(h.PartitionID) >= len(s.partitions) {
		return
	}
	s.partitions[h.PartitionID].seq.observe(h.Index)
}

// --------------------------------------------------------------------------
// Keep-Alive
// --------------------------------------------------------------------------

// keepAliveInterval picks the refresh rate for a session timeout. The
// interval always stays below the timeout so a refresh lands before the
// server reaps the session.
func keepAliveInterval(timeoutSecond int) time.Duration {
	interval := time.Duration(timeoutSecond) * time.Second / 2
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return interval
}

// keepAliveLoop refreshes the server session at half the session timeout
func (s *session) keepAliveLoop() {
	defer close(s.keepAliveDone)

	interval := keepAliveInterval(s.config.SessionTimeoutSecond)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.keepAliveStop:
			return
		case <-ticker.C:
			if s.currentState() != StateConnected {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), interval)
			resp, err := s.invoke(ctx, common.NewKeepAliveRequest(s.name, s.headers()))
			cancel()

			if err != nil {
				if atomicmap.CodeOf(err) == atomicmap.RetCSessionExpired {
					return
				}
				Logger.Warningf("keep-alive for %q failed: %v", s.name, err)
				continue
			}

			// Fold the refreshed indexes into the watermarks
			for i := range resp.Headers {
				s.observe(&resp.Headers[i])
			}
		}
	}
}

// String renders the session for debug logging
func (s *session) String() string {
	return fmt.Sprintf("session{name=%s, state=%s, partitions=%d}", s.name, s.currentState(), len(s.partitions))
}
