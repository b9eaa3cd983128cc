package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/objcodec"
	"github.com/ValentinKolb/dGrid/lib/store"
)

// RegionFactory creates a fresh, empty region for one test
type RegionFactory func() store.IRegion

// RunRegionTests runs the conformance suite for an IRegion implementation.
func RunRegionTests(t *testing.T, name string, factory RegionFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, factory())
		})

		t.Run("ApplyDelta", func(t *testing.T) {
			testApplyDelta(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("ContainsKey&Size", func(t *testing.T) {
			testContainsKeyAndSize(t, factory())
		})

		t.Run("NilValue", func(t *testing.T) {
			testNilValue(t, factory())
		})

		t.Run("KeyTypes", func(t *testing.T) {
			testKeyTypes(t, factory())
		})

		t.Run("ConcurrentPuts", func(t *testing.T) {
			testConcurrentPuts(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, region store.IRegion) {
	ctx := context.Background()
	v1 := objcodec.MustEncode("v1")
	v2 := objcodec.MustEncode("v2")

	old, err := region.Put(ctx, "k", v1, nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if old != nil {
		t.Errorf("Expected no previous value, got %v", old)
	}

	old, err = region.Put(ctx, "k", v2, nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !bytes.Equal(old, v1) {
		t.Errorf("Expected previous value %v, got %v", v1, old)
	}

	value, found, err := region.Get(ctx, "k", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || !bytes.Equal(value, v2) {
		t.Errorf("Expected value %v, got %v (found=%t)", v2, value, found)
	}

	_, found, _ = region.Get(ctx, "nonexistent-key", nil)
	if found {
		t.Errorf("Expected nonexistent key to return found=false")
	}

	value[0] ^= 0xff
	again, _, _ := region.Get(ctx, "k", nil)
	if !bytes.Equal(again, v2) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testPutIfAbsent(t *testing.T, region store.IRegion) {
	ctx := context.Background()
	v1 := objcodec.MustEncode(int64(1))
	v2 := objcodec.MustEncode(int64(2))

	existing, err := region.PutIfAbsent(ctx, "k", v1, nil)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if existing != nil {
		t.Errorf("Expected no existing value, got %v", existing)
	}

	existing, err = region.PutIfAbsent(ctx, "k", v2, nil)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if !bytes.Equal(existing, v1) {
		t.Errorf("Expected existing value %v, got %v", v1, existing)
	}

	value, _, _ := region.Get(ctx, "k", nil)
	if !bytes.Equal(value, v1) {
		t.Errorf("PutIfAbsent must not overwrite, got %v", value)
	}
}

func testApplyDelta(t *testing.T, region store.IRegion) {
	ctx := context.Background()

	_, err := region.ApplyDelta(ctx, "missing", objcodec.MustEncode(int64(1)), nil)
	if store.CodeOf(err) != store.RetCEntryNotFound {
		t.Errorf("Expected RetCEntryNotFound for delta on missing key, got %v", err)
	}

	start := objcodec.MustEncode(map[string]any{"a": int64(1), "b": "x"})
	if _, err := region.Put(ctx, "m", start, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	old, err := region.ApplyDelta(ctx, "m", objcodec.MustEncode(map[string]any{"b": "y", "c": true}), nil)
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}
	if !bytes.Equal(old, start) {
		t.Errorf("Expected previous value to be returned")
	}

	value, _, _ := region.Get(ctx, "m", nil)
	decoded, err := objcodec.Decode(value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("Expected map after delta, got %T", decoded)
	}
	if m["a"] != int64(1) || m["b"] != "y" || m["c"] != true {
		t.Errorf("Unexpected merged value %v", m)
	}

	// incompatible delta leaves the value untouched
	_, err = region.ApplyDelta(ctx, "m", objcodec.MustEncode("oops"), nil)
	if store.CodeOf(err) != store.RetCDeltaFailed {
		t.Errorf("Expected RetCDeltaFailed, got %v", err)
	}
	after, _, _ := region.Get(ctx, "m", nil)
	if !bytes.Equal(after, value) {
		t.Errorf("Failed delta must not change the value")
	}
}

func testRemove(t *testing.T, region store.IRegion) {
	ctx := context.Background()

	existed, err := region.Remove(ctx, "k", nil)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if existed {
		t.Errorf("Expected existed=false for missing key")
	}

	_, _ = region.Put(ctx, "k", objcodec.MustEncode("v"), nil)
	existed, _ = region.Remove(ctx, "k", nil)
	if !existed {
		t.Errorf("Expected existed=true")
	}

	_, found, _ := region.Get(ctx, "k", nil)
	if found {
		t.Errorf("Key should not exist after Remove")
	}
}

func testContainsKeyAndSize(t *testing.T, region store.IRegion) {
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = region.Put(ctx, fmt.Sprintf("key-%d", i), objcodec.MustEncode(int64(i)), nil)
	}

	size, err := region.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 10 {
		t.Errorf("Expected size 10, got %d", size)
	}

	ok, _ := region.ContainsKey(ctx, "key-3")
	if !ok {
		t.Errorf("Expected key-3 to exist")
	}
	ok, _ = region.ContainsKey(ctx, "key-10")
	if ok {
		t.Errorf("Expected key-10 not to exist")
	}
}

// testNilValue checks that a key without a value is absent for every operation
func testNilValue(t *testing.T, region store.IRegion) {
	ctx := context.Background()
	v1 := objcodec.MustEncode("v1")

	_, _ = region.Put(ctx, "k", v1, nil)
	old, err := region.Put(ctx, "k", nil, nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !bytes.Equal(old, v1) {
		t.Errorf("Expected previous value %v, got %v", v1, old)
	}

	if ok, _ := region.ContainsKey(ctx, "k"); ok {
		t.Errorf("Expected key with nil value not to exist")
	}
	if size, _ := region.Size(ctx); size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
	if _, found, _ := region.Get(ctx, "k", nil); found {
		t.Errorf("Expected Get to report found=false")
	}

	// the key is absent, so PutIfAbsent writes
	existing, err := region.PutIfAbsent(ctx, "k", v1, nil)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if existing != nil {
		t.Errorf("Expected no existing value, got %v", existing)
	}
	if ok, _ := region.ContainsKey(ctx, "k"); !ok {
		t.Errorf("Expected key to exist after PutIfAbsent")
	}

	// a nil PutIfAbsent stores nothing
	_, _ = region.PutIfAbsent(ctx, "other", nil, nil)
	if ok, _ := region.ContainsKey(ctx, "other"); ok {
		t.Errorf("Expected nil PutIfAbsent not to create a key")
	}
	if size, _ := region.Size(ctx); size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}
}

func testKeyTypes(t *testing.T, region store.IRegion) {
	ctx := context.Background()

	_, _ = region.Put(ctx, "1", objcodec.MustEncode("string key"), nil)
	_, _ = region.Put(ctx, int64(1), objcodec.MustEncode("int key"), nil)

	size, _ := region.Size(ctx)
	if size != 2 {
		t.Errorf("String and integer keys must be distinct, size=%d", size)
	}

	value, found, _ := region.Get(ctx, 1, nil)
	if !found || !bytes.Equal(value, objcodec.MustEncode("int key")) {
		t.Errorf("Integer keys of different width must be equal")
	}

	_, err := region.Put(ctx, 1.5, objcodec.MustEncode("x"), nil)
	if store.CodeOf(err) != store.RetCInvalidKey {
		t.Errorf("Expected RetCInvalidKey for float key, got %v", err)
	}
}

func testConcurrentPuts(t *testing.T, region store.IRegion) {
	ctx := context.Background()
	const workers, perWorker = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if _, err := region.Put(ctx, key, objcodec.MustEncode(int64(i)), nil); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	size, _ := region.Size(ctx)
	if size != workers*perWorker {
		t.Errorf("Expected %d entries, got %d", workers*perWorker, size)
	}
}
