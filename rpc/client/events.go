package client

import (
	"context"
	"io"
	"sync"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
	"github.com/ValentinKolb/dMap/rpc/common"
	"github.com/ValentinKolb/dMap/rpc/transport"
)

// eventManager owns the change event subscription of one map client.
// Listener identity is channel identity: a channel registers at most once,
// and removing it needs no token. The server stream is opened lazily with
// the first listener and closed with the last one. A failed stream is not
// reopened eagerly; the next addListener call re-establishes it.
type eventManager struct {
	session *session
	name    string

	mu        sync.Mutex
	listeners map[chan<- atomicmap.Event[string, []byte]]struct{}
	stream    transport.IClientStream
	shutdownF bool
}

func newEventManager(session *session, name string) *eventManager {
	return &eventManager{
		session:   session,
		name:      name,
		listeners: make(map[chan<- atomicmap.Event[string, []byte]]struct{}),
	}
}

// addListener registers a channel and opens the event stream if it is the
// first one (or the previous stream failed)
func (e *eventManager) addListener(_ context.Context, listener chan<- atomicmap.Event[string, []byte]) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdownF {
		return atomicmap.NewErrorf(atomicmap.RetCClosed, "map %q is closed", e.name)
	}

	if _, ok := e.listeners[listener]; ok {
		return nil // already registered
	}

	if e.stream == nil {
		stream, err := e.session.openStream(common.NewEventsRequest(e.name, e.session.headers()))
		if err != nil {
			return err
		}
		e.stream = stream
		go e.pump(stream)
	}

	e.listeners[listener] = struct{}{}
	return nil
}

// removeListener unregisters a channel, closing the stream when no listener
// is left. Unknown channels are a no-op.
func (e *eventManager) removeListener(listener chan<- atomicmap.Event[string, []byte]) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.listeners[listener]; !ok {
		return nil
	}
	delete(e.listeners, listener)

	if len(e.listeners) == 0 && e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	return nil
}

// shutdown tears the subscription down for good
func (e *eventManager) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.shutdownF = true
	e.listeners = make(map[chan<- atomicmap.Event[string, []byte]]struct{})
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
}

// pump translates stream elements into typed events and fans them out to
// all registered listeners. Delivery blocks on the listener's channel; a
// slow consumer slows the whole subscription down, never loses events.
func (e *eventManager) pump(stream transport.IClientStream) {
	for {
		data, err := stream.Recv()
		if err != nil {
			e.detach(stream)
			if err != io.EOF {
				Logger.Warningf("event stream for %q failed: %v", e.name, err)
			}
			return
		}

		var msg common.Message
		if err := e.session.serializer.Deserialize(data, &msg); err != nil {
			Logger.Errorf("failed to decode event for %q: %v", e.name, err)
			continue
		}

		e.session.observe(msg.Header)
		event := translateEvent(&msg)
		observeEvent(event.Type.String())

		// Snapshot the listeners, deliver outside the lock
		e.mu.Lock()
		targets := make([]chan<- atomicmap.Event[string, []byte], 0, len(e.listeners))
		for l := range e.listeners {
			targets = append(targets, l)
		}
		e.mu.Unlock()

		for _, l := range targets {
			l <- event
		}
	}
}

// detach forgets a dead stream so the next addListener reopens one
func (e *eventManager) detach(stream transport.IClientStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == stream {
		e.stream = nil
	}
}

// translateEvent maps a wire-level event element to the typed event
func translateEvent(msg *common.Message) atomicmap.Event[string, []byte] {
	event := atomicmap.Event[string, []byte]{Key: msg.Key}

	switch msg.EvType {
	case common.EventTInserted:
		event.Type = atomicmap.EventInserted
		event.NewValue = &atomicmap.Versioned[[]byte]{Value: msg.Value, Version: msg.Version}
	case common.EventTUpdated:
		event.Type = atomicmap.EventUpdated
		event.NewValue = &atomicmap.Versioned[[]byte]{Value: msg.Value, Version: msg.Version}
		event.OldValue = &atomicmap.Versioned[[]byte]{Value: msg.PrevValue, Version: msg.PrevVersion}
	case common.EventTRemoved:
		event.Type = atomicmap.EventRemoved
		event.OldValue = &atomicmap.Versioned[[]byte]{Value: msg.PrevValue, Version: msg.PrevVersion}
	}

	return event
}
