package testing

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMap/lib/atomicmap"
)

// MapFactory is a function that creates a new, unconnected instance of an
// IAtomicMap implementation
type MapFactory func() atomicmap.IAtomicMap[string, []byte]

// RunAtomicMapTests runs a comprehensive test suite for an IAtomicMap
// implementation.
func RunAtomicMapTests(t *testing.T, name string, factory MapFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, connect(t, factory))
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, connect(t, factory))
		})

		t.Run("GetOrDefault", func(t *testing.T) {
			testGetOrDefault(t, connect(t, factory))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, connect(t, factory))
		})

		t.Run("Replace", func(t *testing.T) {
			testReplace(t, connect(t, factory))
		})

		t.Run("Contains", func(t *testing.T) {
			testContains(t, connect(t, factory))
		})

		t.Run("Size&Clear", func(t *testing.T) {
			testSizeClear(t, connect(t, factory))
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, connect(t, factory))
		})

		t.Run("ComputeIf", func(t *testing.T) {
			testComputeIf(t, connect(t, factory))
		})

		t.Run("Views", func(t *testing.T) {
			testViews(t, connect(t, factory))
		})

		t.Run("Events", func(t *testing.T) {
			testEvents(t, connect(t, factory))
		})

		t.Run("ConcurrentPutIfAbsent", func(t *testing.T) {
			testConcurrentPutIfAbsent(t, connect(t, factory))
		})

		t.Run("ConcurrentComputeIf", func(t *testing.T) {
			testConcurrentComputeIf(t, connect(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, connect(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// connect creates a map from the factory, connects it and schedules cleanup
func connect(t *testing.T, factory MapFactory) atomicmap.IAtomicMap[string, []byte] {
	t.Helper()

	m := factory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})
	return m
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitEvent receives one event or fails the test after a timeout
func waitEvent(t *testing.T, ch <-chan atomicmap.Event[string, []byte]) atomicmap.Event[string, []byte] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
		return atomicmap.Event[string, []byte]{}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	v, err := m.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != nil {
		t.Errorf("Expected nil for nonexistent key, got %v", v)
	}

	prev, err := m.Put(ctx, testKey, testValue1, 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected no previous value on first Put, got %v", prev)
	}

	v1, err := m.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v1 == nil {
		t.Fatalf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(v1.Value, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, v1.Value)
	}
	if v1.Version <= 0 {
		t.Errorf("Expected a positive version, got %d", v1.Version)
	}

	prev, err = m.Put(ctx, testKey, testValue2, 0)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if prev == nil {
		t.Fatalf("Expected previous value on second Put")
	}
	if !bytes.Equal(prev.Value, testValue1) {
		t.Errorf("Expected previous value %s, got %s", testValue1, prev.Value)
	}
	if prev.Version != v1.Version {
		t.Errorf("Expected previous version %d, got %d", v1.Version, prev.Version)
	}

	v2, err := m.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(v2.Value, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, v2.Value)
	}
	if v2.Version <= v1.Version {
		t.Errorf("Expected version to increase: %d -> %d", v1.Version, v2.Version)
	}
}

func testPutIfAbsent(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	existing, err := m.PutIfAbsent(ctx, testKey, testValue1, 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if existing != nil {
		t.Errorf("Expected nil on first PutIfAbsent, got %v", existing)
	}

	existing, err = m.PutIfAbsent(ctx, testKey, testValue2, 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if existing == nil {
		t.Fatalf("Expected existing value on second PutIfAbsent")
	}
	if !bytes.Equal(existing.Value, testValue1) {
		t.Errorf("Expected existing value %s, got %s", testValue1, existing.Value)
	}

	// The losing write must not have changed anything
	v, err := m.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(v.Value, testValue1) {
		t.Errorf("Expected value %s after losing PutIfAbsent, got %s", testValue1, v.Value)
	}
}

func testGetOrDefault(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	defaultValue := []byte("default")

	v, err := m.GetOrDefault(ctx, "missing", defaultValue)
	if err != nil {
		t.Fatalf("GetOrDefault failed: %v", err)
	}
	if v == nil || !bytes.Equal(v.Value, defaultValue) {
		t.Errorf("Expected default value for missing key, got %v", v)
	}
	if v.Version != 0 {
		t.Errorf("Expected version 0 for defaulted value, got %d", v.Version)
	}

	stored := []byte("stored")
	if _, err := m.Put(ctx, "present", stored, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	v, err = m.GetOrDefault(ctx, "present", defaultValue)
	if err != nil {
		t.Fatalf("GetOrDefault failed: %v", err)
	}
	if !bytes.Equal(v.Value, stored) {
		t.Errorf("Expected stored value %s, got %s", stored, v.Value)
	}
	if v.Version == 0 {
		t.Errorf("Expected a real version for stored value")
	}
}

func testRemove(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testKey := "test-key"
	testValue := []byte("test-value")

	prev, err := m.Remove(ctx, "missing")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected nil when removing a missing key, got %v", prev)
	}

	if _, err := m.Put(ctx, testKey, testValue, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	prev, err = m.Remove(ctx, testKey)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if prev == nil || !bytes.Equal(prev.Value, testValue) {
		t.Errorf("Expected removed value %s, got %v", testValue, prev)
	}

	if v, _ := m.Get(ctx, testKey); v != nil {
		t.Errorf("Expected key %s to not exist after Remove", testKey)
	}

	// Conditioned removals
	if _, err := m.Put(ctx, testKey, testValue, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	current, _ := m.Get(ctx, testKey)

	ok, err := m.RemoveValue(ctx, testKey, []byte("wrong"))
	if err != nil {
		t.Fatalf("RemoveValue failed: %v", err)
	}
	if ok {
		t.Errorf("Expected RemoveValue with wrong value to report false")
	}

	ok, err = m.RemoveValue(ctx, testKey, testValue)
	if err != nil {
		t.Fatalf("RemoveValue failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected RemoveValue with matching value to report true")
	}

	if _, err := m.Put(ctx, testKey, testValue, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	current, _ = m.Get(ctx, testKey)

	ok, err = m.RemoveVersion(ctx, testKey, current.Version+1)
	if err != nil {
		t.Fatalf("RemoveVersion failed: %v", err)
	}
	if ok {
		t.Errorf("Expected RemoveVersion with wrong version to report false")
	}

	// Version 0 is the absent sentinel, never a condition that holds
	ok, err = m.RemoveVersion(ctx, testKey, 0)
	if err != nil {
		t.Fatalf("RemoveVersion failed: %v", err)
	}
	if ok {
		t.Errorf("Expected RemoveVersion with version 0 to report false")
	}
	if v, _ := m.Get(ctx, testKey); v == nil {
		t.Errorf("Expected key %s to survive a zero-version removal", testKey)
	}

	ok, err = m.RemoveVersion(ctx, testKey, current.Version)
	if err != nil {
		t.Fatalf("RemoveVersion failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected RemoveVersion with matching version to report true")
	}
}

func testReplace(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	prev, err := m.Replace(ctx, "missing", testValue1)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected nil when replacing a missing key, got %v", prev)
	}
	if v, _ := m.Get(ctx, "missing"); v != nil {
		t.Errorf("Replace on a missing key must not insert")
	}

	if _, err := m.Put(ctx, testKey, testValue1, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	prev, err = m.Replace(ctx, testKey, testValue2)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if prev == nil || !bytes.Equal(prev.Value, testValue1) {
		t.Errorf("Expected previous value %s, got %v", testValue1, prev)
	}

	// Conditioned replacements
	ok, err := m.ReplaceValue(ctx, testKey, []byte("wrong"), testValue1)
	if err != nil {
		t.Fatalf("ReplaceValue failed: %v", err)
	}
	if ok {
		t.Errorf("Expected ReplaceValue with wrong value to report false")
	}

	ok, err = m.ReplaceValue(ctx, testKey, testValue2, testValue1)
	if err != nil {
		t.Fatalf("ReplaceValue failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected ReplaceValue with matching value to report true")
	}

	current, _ := m.Get(ctx, testKey)

	ok, err = m.ReplaceVersion(ctx, testKey, current.Version+1, testValue2)
	if err != nil {
		t.Fatalf("ReplaceVersion failed: %v", err)
	}
	if ok {
		t.Errorf("Expected ReplaceVersion with wrong version to report false")
	}

	// Version 0 is the absent sentinel, never a condition that holds
	ok, err = m.ReplaceVersion(ctx, testKey, 0, testValue2)
	if err != nil {
		t.Fatalf("ReplaceVersion failed: %v", err)
	}
	if ok {
		t.Errorf("Expected ReplaceVersion with version 0 to report false")
	}
	if v, _ := m.Get(ctx, testKey); v == nil || !bytes.Equal(v.Value, testValue1) {
		t.Errorf("Expected value to survive a zero-version replacement, got %v", v)
	}

	ok, err = m.ReplaceVersion(ctx, testKey, current.Version, testValue2)
	if err != nil {
		t.Fatalf("ReplaceVersion failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected ReplaceVersion with matching version to report true")
	}

	// Conditioned writes against a missing key never succeed
	if ok, _ := m.ReplaceValue(ctx, "missing", testValue1, testValue2); ok {
		t.Errorf("Expected ReplaceValue on a missing key to report false")
	}
	if ok, _ := m.ReplaceVersion(ctx, "missing", 1, testValue2); ok {
		t.Errorf("Expected ReplaceVersion on a missing key to report false")
	}
}

func testContains(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	found, err := m.ContainsKey(ctx, "missing")
	if err != nil {
		t.Fatalf("ContainsKey failed: %v", err)
	}
	if found {
		t.Errorf("Expected ContainsKey to return false for nonexistent key")
	}

	if _, err := m.Put(ctx, "present", []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	found, err = m.ContainsKey(ctx, "present")
	if err != nil {
		t.Fatalf("ContainsKey failed: %v", err)
	}
	if !found {
		t.Errorf("Expected ContainsKey to return true after Put")
	}

	_, err = m.ContainsValue(ctx, []byte("v"))
	if atomicmap.CodeOf(err) != atomicmap.RetCUnsupportedOperation {
		t.Errorf("Expected ContainsValue to fail with RetCUnsupportedOperation, got %v", err)
	}
}

func testSizeClear(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	empty, err := m.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty failed: %v", err)
	}
	if !empty {
		t.Errorf("Expected a fresh map to be empty")
	}

	// Spread keys over all partitions
	const numKeys = 32
	for i := 0; i < numKeys; i++ {
		if _, err := m.Put(ctx, fmt.Sprintf("key-%d", i), []byte("v"), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	size, err := m.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != numKeys {
		t.Errorf("Expected size %d, got %d", numKeys, size)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	size, err = m.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("Expected size 0 after Clear, got %d", size)
	}
}

func testKeyExpiry(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testValue := []byte("test-value")

	if _, err := m.Put(ctx, "expiring", testValue, 50*time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := m.Put(ctx, "persistent", testValue, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if v, _ := m.Get(ctx, "expiring"); v != nil {
		t.Errorf("Key should have expired")
	}
	if found, _ := m.ContainsKey(ctx, "expiring"); found {
		t.Errorf("Expired key should not be contained")
	}
	if v, _ := m.Get(ctx, "persistent"); v == nil {
		t.Errorf("Key with TTL=0 should never expire")
	}

	// An expired key counts as absent for conditioned inserts
	existing, err := m.PutIfAbsent(ctx, "expiring", testValue, 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if existing != nil {
		t.Errorf("Expected PutIfAbsent to win over an expired key, got %v", existing)
	}
}

func testComputeIf(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	testKey := "test-key"

	always := func(_ []byte, _ bool) bool { return true }

	// Insert when absent
	result, err := m.ComputeIf(ctx, testKey, always,
		func(_ string, _ []byte, present bool) ([]byte, bool) {
			if present {
				t.Errorf("Expected remap to see an absent key")
			}
			return []byte("one"), true
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if result == nil || !bytes.Equal(result.Value, []byte("one")) {
		t.Errorf("Expected result 'one', got %v", result)
	}
	if result.Version <= 0 {
		t.Errorf("Expected a positive version, got %d", result.Version)
	}

	stored, _ := m.Get(ctx, testKey)
	if stored == nil || stored.Version != result.Version {
		t.Errorf("Expected ComputeIf result version to match stored version: %v vs %v", result, stored)
	}

	// Update when present
	result, err = m.ComputeIf(ctx, testKey, always,
		func(_ string, current []byte, present bool) ([]byte, bool) {
			if !present || !bytes.Equal(current, []byte("one")) {
				t.Errorf("Expected remap to see current value 'one', got %s (present=%t)", current, present)
			}
			return []byte("two"), true
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if result == nil || !bytes.Equal(result.Value, []byte("two")) {
		t.Errorf("Expected result 'two', got %v", result)
	}

	// Condition false leaves the entry alone
	unchanged, err := m.ComputeIf(ctx, testKey,
		func(_ []byte, _ bool) bool { return false },
		func(_ string, _ []byte, _ bool) ([]byte, bool) {
			t.Errorf("Remap must not run when the condition is false")
			return nil, false
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if unchanged == nil || !bytes.Equal(unchanged.Value, []byte("two")) {
		t.Errorf("Expected unchanged value 'two', got %v", unchanged)
	}

	// Remove when keep=false
	result, err = m.ComputeIf(ctx, testKey, always,
		func(_ string, _ []byte, _ bool) ([]byte, bool) {
			return nil, false
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result after removal, got %v", result)
	}
	if v, _ := m.Get(ctx, testKey); v != nil {
		t.Errorf("Expected key to be removed by ComputeIf")
	}

	// Absent and staying absent is a no-op
	result, err = m.ComputeIf(ctx, testKey, always,
		func(_ string, _ []byte, _ bool) ([]byte, bool) {
			return nil, false
		})
	if err != nil {
		t.Fatalf("ComputeIf failed: %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result for absent no-op, got %v", result)
	}
}

func testViews(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	const numKeys = 16
	for i := 0; i < numKeys; i++ {
		if _, err := m.Put(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Key set
	keySet := m.KeySet()
	if size, _ := keySet.Size(ctx); size != numKeys {
		t.Errorf("Expected key set size %d, got %d", numKeys, size)
	}
	if found, _ := keySet.Contains(ctx, "key-0"); !found {
		t.Errorf("Expected key set to contain key-0")
	}
	if found, _ := keySet.Contains(ctx, "missing"); found {
		t.Errorf("Expected key set to not contain a missing key")
	}
	if _, err := keySet.Add(ctx, "new-key"); atomicmap.CodeOf(err) != atomicmap.RetCUnsupportedOperation {
		t.Errorf("Expected Add on key set to fail with RetCUnsupportedOperation, got %v", err)
	}

	keyCh := make(chan string, numKeys)
	if err := keySet.Elements(ctx, keyCh); err != nil {
		t.Fatalf("Elements failed: %v", err)
	}
	keys := make(map[string]struct{})
	for k := range keyCh {
		keys[k] = struct{}{}
	}
	if len(keys) != numKeys {
		t.Errorf("Expected %d enumerated keys, got %d", numKeys, len(keys))
	}

	// Entry set
	entrySet := m.EntrySet()
	entryCh := make(chan atomicmap.Entry[string, []byte], numKeys)
	if err := entrySet.Elements(ctx, entryCh); err != nil {
		t.Fatalf("Elements failed: %v", err)
	}
	count := 0
	var sample atomicmap.Entry[string, []byte]
	for e := range entryCh {
		if e.Value.Version <= 0 {
			t.Errorf("Expected enumerated entry %s to carry a version", e.Key)
		}
		sample = e
		count++
	}
	if count != numKeys {
		t.Errorf("Expected %d enumerated entries, got %d", numKeys, count)
	}

	if found, err := entrySet.Contains(ctx, sample); err != nil || !found {
		t.Errorf("Expected entry set to contain an enumerated entry, got (%t, %v)", found, err)
	}
	if ok, err := entrySet.Remove(ctx, sample); err != nil || !ok {
		t.Errorf("Expected versioned entry removal to succeed, got (%t, %v)", ok, err)
	}
	if found, _ := m.ContainsKey(ctx, sample.Key); found {
		t.Errorf("Expected key %s to be gone after entry set removal", sample.Key)
	}

	// Values view
	values := m.Values()
	if size, _ := values.Size(ctx); size != numKeys-1 {
		t.Errorf("Expected values size %d, got %d", numKeys-1, size)
	}
	if _, err := values.Contains(ctx, atomicmap.Versioned[[]byte]{}); atomicmap.CodeOf(err) != atomicmap.RetCUnsupportedOperation {
		t.Errorf("Expected Contains on values view to fail with RetCUnsupportedOperation, got %v", err)
	}

	// Key set removal delegates to the map
	if ok, err := keySet.Remove(ctx, "key-1"); err != nil || !ok {
		t.Errorf("Expected key set removal to succeed, got (%t, %v)", ok, err)
	}
	if ok, _ := keySet.Remove(ctx, "missing"); ok {
		t.Errorf("Expected key set removal of a missing key to report false")
	}
}

func testEvents(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	events := make(chan atomicmap.Event[string, []byte], 16)
	if err := m.AddListener(ctx, events); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
	// Registering the same channel twice must not duplicate deliveries
	if err := m.AddListener(ctx, events); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	// The subscription is established asynchronously
	time.Sleep(200 * time.Millisecond)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if _, err := m.Put(ctx, testKey, testValue1, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Type != atomicmap.EventInserted {
		t.Errorf("Expected Inserted event, got %v", ev.Type)
	}
	if ev.Key != testKey {
		t.Errorf("Expected event key %s, got %s", testKey, ev.Key)
	}
	if ev.NewValue == nil || !bytes.Equal(ev.NewValue.Value, testValue1) {
		t.Errorf("Expected event new value %s, got %v", testValue1, ev.NewValue)
	}
	if ev.OldValue != nil {
		t.Errorf("Expected no old value on insert, got %v", ev.OldValue)
	}

	if _, err := m.Put(ctx, testKey, testValue2, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ev = waitEvent(t, events)
	if ev.Type != atomicmap.EventUpdated {
		t.Errorf("Expected Updated event, got %v", ev.Type)
	}
	if ev.NewValue == nil || !bytes.Equal(ev.NewValue.Value, testValue2) {
		t.Errorf("Expected event new value %s, got %v", testValue2, ev.NewValue)
	}
	if ev.OldValue == nil || !bytes.Equal(ev.OldValue.Value, testValue1) {
		t.Errorf("Expected event old value %s, got %v", testValue1, ev.OldValue)
	}
	if ev.NewValue != nil && ev.OldValue != nil && ev.NewValue.Version <= ev.OldValue.Version {
		t.Errorf("Expected event versions to increase: %d -> %d", ev.OldValue.Version, ev.NewValue.Version)
	}

	if _, err := m.Remove(ctx, testKey); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	ev = waitEvent(t, events)
	if ev.Type != atomicmap.EventRemoved {
		t.Errorf("Expected Removed event, got %v", ev.Type)
	}
	if ev.OldValue == nil || !bytes.Equal(ev.OldValue.Value, testValue2) {
		t.Errorf("Expected event old value %s, got %v", testValue2, ev.OldValue)
	}

	// The double registration must not have produced duplicates
	select {
	case ev := <-events:
		t.Errorf("Expected no further events, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	// After removal no more events are delivered
	if err := m.RemoveListener(ctx, events); err != nil {
		t.Fatalf("RemoveListener failed: %v", err)
	}
	if _, err := m.Put(ctx, testKey, testValue1, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	select {
	case ev := <-events:
		t.Errorf("Expected no events after RemoveListener, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	// Removing an unknown channel is a no-op
	unknown := make(chan atomicmap.Event[string, []byte])
	if err := m.RemoveListener(ctx, unknown); err != nil {
		t.Errorf("Expected RemoveListener of an unknown channel to be a no-op, got %v", err)
	}
}

func testConcurrentPutIfAbsent(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	const numWriters = 16

	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			existing, err := m.PutIfAbsent(ctx, "contested", []byte(fmt.Sprintf("writer-%d", id)), 0)
			if err != nil {
				t.Errorf("PutIfAbsent failed: %v", err)
				return
			}
			if existing == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one PutIfAbsent winner, got %d", winners)
	}
}

func testConcurrentComputeIf(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	const (
		numWorkers    = 8
		incsPerWorker = 10
	)

	// Each worker increments a shared counter with optimistic retries
	increment := func() error {
		for {
			_, err := m.ComputeIf(ctx, "counter",
				func(_ []byte, _ bool) bool { return true },
				func(_ string, current []byte, present bool) ([]byte, bool) {
					n := 0
					if present {
						n, _ = strconv.Atoi(string(current))
					}
					return []byte(strconv.Itoa(n + 1)), true
				})
			if err == nil {
				return nil
			}
			if atomicmap.CodeOf(err) != atomicmap.RetCConcurrentModification {
				return err
			}
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < incsPerWorker; i++ {
				if err := increment(); err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := m.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil {
		t.Fatalf("Expected counter to exist")
	}
	if got := string(v.Value); got != strconv.Itoa(numWorkers*incsPerWorker) {
		t.Errorf("Expected counter %d, got %s", numWorkers*incsPerWorker, got)
	}
}

func testEdgeCases(t *testing.T, m atomicmap.IAtomicMap[string, []byte]) {
	ctx := testCtx(t)

	// Empty value
	if _, err := m.Put(ctx, "empty", []byte{}, 0); err != nil {
		t.Fatalf("Put with empty value failed: %v", err)
	}
	v, err := m.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil {
		t.Fatalf("Expected key with empty value to exist")
	}
	if len(v.Value) != 0 {
		t.Errorf("Expected empty value, got %v", v.Value)
	}

	// An empty expected value is a real condition, not "unconditioned"
	if _, err := m.Put(ctx, "guarded", []byte("not-empty"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ok, err := m.RemoveValue(ctx, "guarded", []byte{}); err != nil || ok {
		t.Errorf("Expected RemoveValue with empty expected value to report false, got (%t, %v)", ok, err)
	}
	if ok, err := m.ReplaceValue(ctx, "guarded", []byte{}, []byte("x")); err != nil || ok {
		t.Errorf("Expected ReplaceValue with empty expected value to report false, got (%t, %v)", ok, err)
	}
	if v, _ := m.Get(ctx, "guarded"); v == nil || !bytes.Equal(v.Value, []byte("not-empty")) {
		t.Errorf("Expected value to survive empty-conditioned writes, got %v", v)
	}

	// And it matches a stored empty value
	if ok, err := m.ReplaceValue(ctx, "empty", []byte{}, []byte("filled")); err != nil || !ok {
		t.Errorf("Expected ReplaceValue of a stored empty value to report true, got (%t, %v)", ok, err)
	}

	// Large value
	large := make([]byte, 256*1024)
	for i := range large {
		large[i] = byte(i)
	}
	if _, err := m.Put(ctx, "large", large, 0); err != nil {
		t.Fatalf("Put with large value failed: %v", err)
	}
	v, err = m.Get(ctx, "large")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v == nil || !bytes.Equal(v.Value, large) {
		t.Errorf("Large value did not round trip")
	}

	// Unicode keys
	unicodeKey := "schlüssel-日本語-🔑"
	if _, err := m.Put(ctx, unicodeKey, []byte("v"), 0); err != nil {
		t.Fatalf("Put with unicode key failed: %v", err)
	}
	if found, _ := m.ContainsKey(ctx, unicodeKey); !found {
		t.Errorf("Expected unicode key to exist")
	}
}
