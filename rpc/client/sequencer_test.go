package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSequencerReleasesInTicketOrder(t *testing.T) {
	seq := newSequencer(0)

	t0 := seq.enter()
	t1 := seq.enter()
	t2 := seq.enter()

	var pending sync.WaitGroup
	var blocked int32 = 2

	// Later tickets must block until every earlier ticket completed
	pending.Add(2)
	go func() {
		defer pending.Done()
		seq.order(t2, 3)
		if got := atomic.LoadInt32(&blocked); got != 0 {
			t.Errorf("last ticket got served while %d earlier tickets were pending", got)
		}
	}()
	go func() {
		defer pending.Done()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&blocked, -1)
		seq.order(t1, 2)
	}()

	time.Sleep(50 * time.Millisecond)
	atomic.AddInt32(&blocked, -1)
	seq.order(t0, 1)
	pending.Wait()

	if got := seq.current(); got != 3 {
		t.Errorf("Expected watermark 3, got %d", got)
	}
}

func TestSequencerAbortUnblocksSuccessors(t *testing.T) {
	seq := newSequencer(0)

	t0 := seq.enter()
	t1 := seq.enter()
	t2 := seq.enter()

	// Abort the middle ticket while it is not yet up; t2 must still get served
	seq.abort(t1)

	done := make(chan struct{})
	go func() {
		seq.order(t2, 5)
		close(done)
	}()

	seq.order(t0, 1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticket after an aborted one never got served")
	}

	if got := seq.current(); got != 5 {
		t.Errorf("Expected watermark 5, got %d", got)
	}
}

func TestSequencerAbortAtHead(t *testing.T) {
	seq := newSequencer(0)

	t0 := seq.enter()
	t1 := seq.enter()

	// Aborting the ticket currently at the head advances immediately
	seq.abort(t0)

	done := make(chan struct{})
	go func() {
		seq.order(t1, 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticket after a head abort never got served")
	}
}

func TestSequencerWatermarkIsMonotonic(t *testing.T) {
	seq := newSequencer(10)

	if got := seq.current(); got != 10 {
		t.Errorf("Expected initial watermark 10, got %d", got)
	}

	// A stale index never lowers the watermark
	seq.order(seq.enter(), 5)
	if got := seq.current(); got != 10 {
		t.Errorf("Expected watermark to stay at 10, got %d", got)
	}

	seq.order(seq.enter(), 12)
	if got := seq.current(); got != 12 {
		t.Errorf("Expected watermark 12, got %d", got)
	}

	// observe folds out-of-band indexes in, monotonically as well
	seq.observe(11)
	if got := seq.current(); got != 12 {
		t.Errorf("Expected watermark to stay at 12, got %d", got)
	}
	seq.observe(20)
	if got := seq.current(); got != 20 {
		t.Errorf("Expected watermark 20, got %d", got)
	}
}

func TestSequencerConcurrentTraffic(t *testing.T) {
	seq := newSequencer(0)

	const numOps = 200

	var wg sync.WaitGroup
	for i := 0; i < numOps; i++ {
		ticket := seq.enter()
		wg.Add(1)
		go func(ticket uint64) {
			defer wg.Done()
			if ticket%7 == 0 {
				seq.abort(ticket)
				return
			}
			seq.order(ticket, ticket+1)
		}(ticket)
	}
	wg.Wait()

	// All tickets completed; the watermark reflects the highest ordered index
	if got := seq.current(); got == 0 {
		t.Errorf("Expected a non-zero watermark after %d operations", numOps)
	}

	// The sequencer is drained: a fresh ticket is served without waiting
	done := make(chan struct{})
	go func() {
		seq.order(seq.enter(), 1000)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sequencer did not drain after concurrent traffic")
	}
}

func TestPartitionForKeyIsStableAndBounded(t *testing.T) {
	keys := []string{"", "a", "some-key", "another/key", "schlüssel-日本語"}

	for _, key := range keys {
		p1 := partitionForKey(key, 8)
		p2 := partitionForKey(key, 8)
		if p1 != p2 {
			t.Errorf("Expected stable partition for %q, got %d and %d", key, p1, p2)
		}
		if p1 >= 8 {
			t.Errorf("Partition %d for %q out of range", p1, key)
		}
	}

	if p := partitionForKey("any", 1); p != 0 {
		t.Errorf("Expected partition 0 with a single partition, got %d", p)
	}
}
