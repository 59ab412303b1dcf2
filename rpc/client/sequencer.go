package client

import (
	"sync"
)

// sequencer re-establishes per-partition issue order on the response path.
// Callers take a ticket when they issue a request; once the response arrived
// they call order, which blocks until every earlier ticket completed and
// folds the response's log index into the partition watermark. Requests that
// never got a response abort their ticket so later callers don't wait on a
// hole.
//
// The watermark only moves forward: a response carrying a stale index can
// never lower it, which keeps reads monotonic across the whole session.
type sequencer struct {
	mu         sync.Mutex
	cond       *sync.Cond
	nextTicket uint64
	nextServe  uint64
	aborted    map[uint64]struct{}
	index      uint64
}

func newSequencer(index uint64) *sequencer {
	s := &sequencer{
		aborted: make(map[uint64]struct{}),
		index:   index,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enter takes the next ticket. Every enter must be paired with exactly one
// order or abort, otherwise all later tickets block forever.
func (s *sequencer) enter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.nextTicket
	s.nextTicket++
	return t
}

// order blocks until all earlier tickets completed, folds index into the
// watermark and completes the ticket. It returns the updated watermark.
func (s *sequencer) order(ticket, index uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.nextServe != ticket {
		s.cond.Wait()
	}

	if index > s.index {
		s.index = index
	}
	s.complete()

	return s.index
}

// abort completes a ticket without a response. It never blocks.
func (s *sequencer) abort(ticket uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextServe == ticket {
		s.complete()
		return
	}
	s.aborted[ticket] = struct{}{}
}

// observe folds an out-of-band index (events, entry streams) into the
// watermark without participating in the ticket order.
func (s *sequencer) observe(index uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index > s.index {
		s.index = index
	}
}

// current returns the watermark
func (s *sequencer) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// complete advances past the finished ticket and any tickets that were
// aborted while waiting. Caller must hold s.mu.
func (s *sequencer) complete() {
	s.nextServe++
	for {
		if _, ok := s.aborted[s.nextServe]; !ok {
			break
		}
		delete(s.aborted, s.nextServe)
		s.nextServe++
	}
	s.cond.Broadcast()
}
