package server

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// entry is a single stored key with its version and optional expiry
type entry struct {
	value    []byte
	version  int64
	expireAt time.Time // zero = no expiry
}

// watcher is the server side of one events stream. Publishers push into ch
// without blocking; a full channel marks the watcher as overflowed and
// terminates the stream so the client can resubscribe.
type watcher struct {
	id        uint64
	sessionID uint64
	ch        chan *common.Message
	done      chan struct{}
	failed    atomic.Bool
}

// fail marks the watcher as broken and wakes up its pump
func (w *watcher) fail() {
	if w.failed.CompareAndSwap(false, true) {
		close(w.done)
	}
}

// mapState holds one named map's entries and watchers within a partition
type mapState struct {
	entries  map[string]*entry
	watchers map[uint64]*watcher
}

// partition is one independently versioned slice of the key space. Every
// successful command increments the partition's log index, and entry versions
// are assigned from it, making versions strictly increasing per key.
type partition struct {
	id    uint32
	mu    sync.Mutex
	index uint64
	maps  map[string]*mapState
}

// session tracks the liveness of one client session
type session struct {
	id       uint64
	timeout  time.Duration
	lastSeen atomic.Int64 // unix nanos
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) expired(now time.Time) bool {
	return now.UnixNano()-s.lastSeen.Load() > int64(s.timeout)
}

// --------------------------------------------------------------------------
// Map Service
// --------------------------------------------------------------------------

// mapService is the in-memory backend of the map primitive. It implements
// IMapService and owns all partitions and sessions of one shard.
type mapService struct {
	partitions     []*partition
	sessions       *xsync.MapOf[uint64, *session]
	nextSessionID  atomic.Uint64
	nextWatcherID  atomic.Uint64
	defaultTimeout time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewMapService creates a map service with the given partition count and
// default session timeout. The returned service runs a background reaper
// that expires silent sessions; call Stop to shut it down.
func NewMapService(numPartitions int, defaultSessionTimeout time.Duration) IMapService {
	if numPartitions < 1 {
		numPartitions = 1
	}
	if defaultSessionTimeout <= 0 {
		defaultSessionTimeout = 30 * time.Second
	}

	partitions := make([]*partition, numPartitions)
	for i := range partitions {
		partitions[i] = &partition{
			id:   uint32(i),
			maps: make(map[string]*mapState),
		}
	}

	svc := &mapService{
		partitions:     partitions,
		sessions:       xsync.NewMapOf[uint64, *session](),
		defaultTimeout: defaultSessionTimeout,
		stopCh:         make(chan struct{}),
	}

	go svc.reapSessions()

	return svc
}

func (s *mapService) NumPartitions() int {
	return len(s.partitions)
}

func (s *mapService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// --------------------------------------------------------------------------
// Unary Request Handling (docu see server.IMapService)
// --------------------------------------------------------------------------

func (s *mapService) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTCreate:
		return s.handleCreate(req)
	case common.MsgTKeepAlive:
		return s.handleKeepAlive(req)
	case common.MsgTClose:
		return s.handleClose(req)
	case common.MsgTSize:
		return s.handleSize(req)
	case common.MsgTExists:
		return s.handleExists(req)
	case common.MsgTGet:
		return s.handleGet(req)
	case common.MsgTPut:
		return s.handlePut(req)
	case common.MsgTRemove:
		return s.handleRemove(req)
	case common.MsgTReplace:
		return s.handleReplace(req)
	case common.MsgTClear:
		return s.handleClear(req)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("map service: unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Session Operations
// --------------------------------------------------------------------------

func (s *mapService) handleCreate(req *common.Message) *common.Message {
	timeout := s.defaultTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}

	sess := &session{
		id:      s.nextSessionID.Add(1),
		timeout: timeout,
	}
	sess.touch()
	s.sessions.Store(sess.id, sess)

	headers := make([]common.Header, len(s.partitions))
	for i, p := range s.partitions {
		headers[i] = common.Header{
			PartitionID: p.id,
			SessionID:   sess.id,
			Index:       atomic.LoadUint64(&p.index),
		}
	}

	Logger.Infof("opened session %d for map %q (timeout %s)", sess.id, req.Name, timeout)
	return common.NewCreateResponse(headers, nil)
}

func (s *mapService) handleKeepAlive(req *common.Message) *common.Message {
	for _, h := range req.Headers {
		sess, ok := s.sessions.Load(h.SessionID)
		if !ok {
			return common.NewKeepAliveResponse(nil, fmt.Errorf("session %d not found", h.SessionID))
		}
		sess.touch()
	}
	return common.NewKeepAliveResponse(s.currentHeaders(req.Headers), nil)
}

func (s *mapService) handleClose(req *common.Message) *common.Message {
	for _, h := range req.Headers {
		if sess, ok := s.sessions.LoadAndDelete(h.SessionID); ok {
			s.dropSessionWatchers(sess.id)
			Logger.Infof("closed session %d", sess.id)
		}
	}
	return common.NewCloseResponse(nil)
}

// --------------------------------------------------------------------------
// Map Operations
// --------------------------------------------------------------------------

func (s *mapService) handleSize(req *common.Message) *common.Message {
	var count uint64
	now := time.Now()

	for _, p := range s.partitions {
		p.mu.Lock()
		if state, ok := p.maps[req.Name]; ok {
			p.collectExpired(req.Name, state, now)
			count += uint64(len(state.entries))
		}
		p.mu.Unlock()
	}

	return common.NewSizeResponse(count, s.currentHeaders(req.Headers), nil)
}

func (s *mapService) handleExists(req *common.Message) *common.Message {
	p, errResp := s.partition(req.Header)
	if errResp != nil {
		return errResp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookup(req.Name, req.Key, time.Now())
	return common.NewExistsResponse(e != nil, p.header(req.Header.SessionID), nil)
}

func (s *mapService) handleGet(req *common.Message) *common.Message {
	p, errResp := s.partition(req.Header)
	if errResp != nil {
		return errResp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.lookup(req.Name, req.Key, time.Now())
	if e == nil {
		return common.NewGetResponse(nil, 0, p.header(req.Header.SessionID), nil)
	}
	return common.NewGetResponse(e.value, e.version, p.header(req.Header.SessionID), nil)
}

func (s *mapService) handlePut(req *common.Message) *common.Message {
	p, errResp := s.partition(req.Header)
	if errResp != nil {
		return errResp
	}
	if errResp := s.checkSession(req.Header); errResp != nil {
		return errResp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.state(req.Name)
	prev := p.lookup(req.Name, req.Key, time.Now())

	// Only-if-absent put: the existing entry wins, nothing is written and
	// its TTL is left untouched
	if req.Version == -1 && prev != nil {
		return common.NewPutResponse(common.StatusPreconditionFailed, prev.value, prev.version,
			p.header(req.Header.SessionID), nil)
	}

	index := atomic.AddUint64(&p.index, 1)
	e := &entry{
		value:   req.Value,
		version: int64(index),
	}
	if req.TTLMillis > 0 {
		e.expireAt = time.Now().Add(time.Duration(req.TTLMillis) * time.Millisecond)
	}
	state.entries[req.Key] = e

	if prev == nil {
		p.publish(state, common.NewEventsElement(
			common.EventTInserted, req.Key, nil, 0, e.value, e.version, p.header(0)))
		return common.NewPutResponse(common.StatusOK, nil, 0, p.header(req.Header.SessionID), nil)
	}

	p.publish(state, common.NewEventsElement(
		common.EventTUpdated, req.Key, prev.value, prev.version, e.value, e.version, p.header(0)))
	return common.NewPutResponse(common.StatusOK, prev.value, prev.version, p.header(req.Header.SessionID), nil)
}

func (s *mapService) handleRemove(req *common.Message) *common.Message {
	p, errResp := s.partition(req.Header)
	if errResp != nil {
		return errResp
	}
	if errResp := s.checkSession(req.Header); errResp != nil {
		return errResp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.state(req.Name)
	prev := p.lookup(req.Name, req.Key, time.Now())

	// Removing an absent key is a no-op
	if prev == nil {
		return common.NewRemoveResponse(common.StatusOK, nil, 0, p.header(req.Header.SessionID), nil)
	}

	// Value condition
	if req.PrevValue != nil && !bytes.Equal(req.PrevValue, prev.value) {
		return common.NewRemoveResponse(common.StatusPreconditionFailed, nil, 0,
			p.header(req.Header.SessionID), nil)
	}

	// Version condition
	if req.Version > 0 && req.Version != prev.version {
		return common.NewRemoveResponse(common.StatusPreconditionFailed, nil, 0,
			p.header(req.Header.SessionID), nil)
	}

	atomic.AddUint64(&p.index, 1)
	delete(state.entries, req.Key)

	p.publish(state, common.NewEventsElement(
		common.EventTRemoved, req.Key, prev.value, prev.version, nil, 0, p.header(0)))
	return common.NewRemoveResponse(common.StatusOK, prev.value, prev.version, p.header(req.Header.SessionID), nil)
}

func (s *mapService) handleReplace(req *common.Message) *common.Message {
	p, errResp := s.partition(req.Header)
	if errResp != nil {
		return errResp
	}
	if errResp := s.checkSession(req.Header); errResp != nil {
		return errResp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.state(req.Name)
	prev := p.lookup(req.Name, req.Key, time.Now())

	// Replace requires a present key. PrevVersion zero in the response
	// distinguishes absence from a failed condition.
	if prev == nil {
		return common.NewReplaceResponse(common.StatusPreconditionFailed, nil, 0,
			p.header(req.Header.SessionID), nil)
	}

	// Value condition
	if req.PrevValue != nil && !bytes.Equal(req.PrevValue, prev.value) {
		return common.NewReplaceResponse(common.StatusPreconditionFailed, prev.value, prev.version,
			p.header(req.Header.SessionID), nil)
	}

	// Version condition
	if req.PrevVersion > 0 && req.PrevVersion != prev.version {
		return common.NewReplaceResponse(common.StatusPreconditionFailed, prev.value, prev.version,
			p.header(req.Header.SessionID), nil)
	}

	index := atomic.AddUint64(&p.index, 1)
	e := &entry{
		value:    req.Value,
		version:  int64(index),
		expireAt: prev.expireAt, // replacement keeps the entry's expiry
	}
	state.entries[req.Key] = e

	p.publish(state, common.NewEventsElement(
		common.EventTUpdated, req.Key, prev.value, prev.version, e.value, e.version, p.header(0)))
	return common.NewReplaceResponse(common.StatusOK, prev.value, prev.version, p.header(req.Header.SessionID), nil)
}

func (s *mapService) handleClear(req *common.Message) *common.Message {
	if len(req.Headers) > 0 {
		if errResp := s.checkSession(&req.Headers[0]); errResp != nil {
			return errResp
		}
	}

	for _, p := range s.partitions {
		p.mu.Lock()
		if state, ok := p.maps[req.Name]; ok && len(state.entries) > 0 {
			atomic.AddUint64(&p.index, 1)
			for key, e := range state.entries {
				p.publish(state, common.NewEventsElement(
					common.EventTRemoved, key, e.value, e.version, nil, 0, p.header(0)))
			}
			state.entries = make(map[string]*entry)
		}
		p.mu.Unlock()
	}

	return common.NewClearResponse(s.currentHeaders(req.Headers), nil)
}

// --------------------------------------------------------------------------
// Stream Request Handling (docu see server.IMapService)
// --------------------------------------------------------------------------

func (s *mapService) HandleStream(req *common.Message, sink func(*common.Message) error) error {
	switch req.MsgType {
	case common.MsgTEntries:
		return s.streamEntries(req, sink)
	case common.MsgTEvents:
		return s.streamEvents(req, sink)
	default:
		return fmt.Errorf("map service: unsupported stream type: %s", req.MsgType)
	}
}

// streamEntries pushes a snapshot of every entry of the named map. The
// snapshot is taken per partition, so entries written during the enumeration
// may or may not be included.
func (s *mapService) streamEntries(req *common.Message, sink func(*common.Message) error) error {
	now := time.Now()

	for _, p := range s.partitions {
		// Snapshot under the partition lock, push outside of it
		p.mu.Lock()
		var elements []*common.Message
		if state, ok := p.maps[req.Name]; ok {
			p.collectExpired(req.Name, state, now)
			elements = make([]*common.Message, 0, len(state.entries))
			for key, e := range state.entries {
				elem := common.NewEntriesElement(key, e.value, e.version)
				elem.Header = p.header(0)
				elements = append(elements, elem)
			}
		}
		p.mu.Unlock()

		for _, elem := range elements {
			if err := sink(elem); err != nil {
				return nil // client cancelled
			}
		}
	}

	return nil
}

// streamEvents subscribes the caller to change events of the named map on
// all partitions. The stream stays open until the client cancels, the
// session dies, or the watcher overflows.
func (s *mapService) streamEvents(req *common.Message, sink func(*common.Message) error) error {
	if len(req.Headers) == 0 {
		return fmt.Errorf("events request carries no headers")
	}
	if errResp := s.checkSession(&req.Headers[0]); errResp != nil {
		return fmt.Errorf("%s", errResp.Err)
	}

	w := &watcher{
		id:        s.nextWatcherID.Add(1),
		sessionID: req.Headers[0].SessionID,
		ch:        make(chan *common.Message, 256),
		done:      make(chan struct{}),
	}

	// Register on every partition
	for _, p := range s.partitions {
		p.mu.Lock()
		p.state(req.Name).watchers[w.id] = w
		p.mu.Unlock()
	}

	defer func() {
		for _, p := range s.partitions {
			p.mu.Lock()
			if state, ok := p.maps[req.Name]; ok {
				delete(state.watchers, w.id)
			}
			p.mu.Unlock()
		}
	}()

	for {
		select {
		case msg := <-w.ch:
			if err := sink(msg); err != nil {
				return nil // client cancelled
			}
		case <-w.done:
			return fmt.Errorf("event stream terminated")
		case <-s.stopCh:
			return fmt.Errorf("service stopped")
		}
	}
}

// --------------------------------------------------------------------------
// Partition Helpers
// --------------------------------------------------------------------------

// state returns the named map's state, creating it lazily.
// Caller must hold p.mu.
func (p *partition) state(name string) *mapState {
	st, ok := p.maps[name]
	if !ok {
		st = &mapState{
			entries:  make(map[string]*entry),
			watchers: make(map[uint64]*watcher),
		}
		p.maps[name] = st
	}
	return st
}

// lookup returns the live entry for key or nil, lazily removing it if its
// TTL has passed. Caller must hold p.mu.
func (p *partition) lookup(name, key string, now time.Time) *entry {
	state, ok := p.maps[name]
	if !ok {
		return nil
	}
	e, ok := state.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && now.After(e.expireAt) {
		atomic.AddUint64(&p.index, 1)
		delete(state.entries, key)
		p.publish(state, common.NewEventsElement(
			common.EventTRemoved, key, e.value, e.version, nil, 0, p.header(0)))
		return nil
	}
	return e
}

// collectExpired removes all expired entries of one map state.
// Caller must hold p.mu.
func (p *partition) collectExpired(name string, state *mapState, now time.Time) {
	for key, e := range state.entries {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			atomic.AddUint64(&p.index, 1)
			delete(state.entries, key)
			p.publish(state, common.NewEventsElement(
				common.EventTRemoved, key, e.value, e.version, nil, 0, p.header(0)))
		}
	}
}

// publish fans an event out to all watchers of the map state. A watcher
// whose buffer is full is failed instead of blocking the write path; its
// client observes a terminated stream and resubscribes.
// Caller must hold p.mu.
func (p *partition) publish(state *mapState, event *common.Message) {
	for id, w := range state.watchers {
		if w.failed.Load() {
			delete(state.watchers, id)
			continue
		}
		select {
		case w.ch <- event:
		default:
			w.fail()
			delete(state.watchers, id)
		}
	}
}

// header snapshots the partition's ordering metadata
func (p *partition) header(sessionID uint64) *common.Header {
	return &common.Header{
		PartitionID: p.id,
		SessionID:   sessionID,
		Index:       atomic.LoadUint64(&p.index),
	}
}

// --------------------------------------------------------------------------
// Service Helpers
// --------------------------------------------------------------------------

// partition resolves the partition a request header points at
func (s *mapService) partition(h *common.Header) (*partition, *common.Message) {
	if h == nil {
		return nil, common.NewErrorResponse("request carries no header")
	}
	if int(h.PartitionID) >= len(s.partitions) {
		return nil, common.NewErrorResponse(fmt.Sprintf("unknown partition %d", h.PartitionID))
	}
	return s.partitions[h.PartitionID], nil
}

// checkSession validates and touches the session a command runs under
func (s *mapService) checkSession(h *common.Header) *common.Message {
	if h == nil {
		return common.NewErrorResponse("request carries no header")
	}
	sess, ok := s.sessions.Load(h.SessionID)
	if !ok {
		return common.NewErrorResponse(fmt.Sprintf("session %d not found", h.SessionID))
	}
	sess.touch()
	return nil
}

// currentHeaders refreshes the indexes of the given headers, or snapshots
// all partitions if none were supplied
func (s *mapService) currentHeaders(in []common.Header) []common.Header {
	if len(in) == 0 {
		headers := make([]common.Header, len(s.partitions))
		for i, p := range s.partitions {
			headers[i] = *p.header(0)
		}
		return headers
	}

	headers := make([]common.Header, len(in))
	for i, h := range in {
		headers[i] = h
		if int(h.PartitionID) < len(s.partitions) {
			headers[i].Index = atomic.LoadUint64(&s.partitions[h.PartitionID].index)
		}
	}
	return headers
}

// dropSessionWatchers terminates every events stream of a session
func (s *mapService) dropSessionWatchers(sessionID uint64) {
	for _, p := range s.partitions {
		p.mu.Lock()
		for _, state := range p.maps {
			for id, w := range state.watchers {
				if w.sessionID == sessionID {
					w.fail()
					delete(state.watchers, id)
				}
			}
		}
		p.mu.Unlock()
	}
}

// reapSessions expires sessions that missed their keep-alives
func (s *mapService) reapSessions() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sessions.Range(func(id uint64, sess *session) bool {
				if sess.expired(now) {
					s.sessions.Delete(id)
					s.dropSessionWatchers(id)
					Logger.Warningf("expired session %d after %s of silence", id, sess.timeout)
				}
				return true
			})
		}
	}
}
