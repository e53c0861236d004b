package bus

import (
	"testing"
	"time"
)

func TestDedupeCache(t *testing.T) {
	cache := NewDedupeCache(time.Second, 100)
	t0 := time.Unix(1000, 0)

	if cache.IsDuplicateAt("key1", t0) {
		t.Error("first check should return false")
	}
	if !cache.IsDuplicateAt("key1", t0.Add(500*time.Millisecond)) {
		t.Error("second check within TTL should return true")
	}
	if cache.IsDuplicateAt("key1", t0.Add(2*time.Second)) {
		t.Error("check after TTL should return false")
	}
	if cache.IsDuplicate("") {
		t.Error("empty key should return false")
	}
}

func TestDedupeCacheTouchExtendsTTL(t *testing.T) {
	cache := NewDedupeCache(time.Second, 100)
	t0 := time.Unix(1000, 0)

	cache.IsDuplicateAt("key1", t0)
	// Repeated hit at +800ms refreshes the entry.
	if !cache.IsDuplicateAt("key1", t0.Add(800*time.Millisecond)) {
		t.Fatal("expected duplicate at +800ms")
	}
	// +1.5s from t0 is only +700ms from the touch, still a duplicate.
	if !cache.IsDuplicateAt("key1", t0.Add(1500*time.Millisecond)) {
		t.Error("touch should extend the TTL")
	}
}

func TestDedupeCacheMaxSize(t *testing.T) {
	cache := NewDedupeCache(time.Hour, 2)
	t0 := time.Unix(1000, 0)

	cache.IsDuplicateAt("key1", t0)
	cache.IsDuplicateAt("key2", t0.Add(time.Second))
	cache.IsDuplicateAt("key3", t0.Add(2*time.Second)) // evicts key1

	if cache.Size() > 2 {
		t.Errorf("cache size should be <= 2, got %d", cache.Size())
	}
	if cache.IsDuplicateAt("key1", t0.Add(3*time.Second)) {
		t.Error("key1 should have been evicted as oldest")
	}
}

func TestDedupeCacheClear(t *testing.T) {
	cache := NewDedupeCache(time.Hour, 100)

	cache.IsDuplicate("key1")
	cache.IsDuplicate("key2")
	if cache.Size() != 2 {
		t.Fatalf("expected size 2, got %d", cache.Size())
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("expected size 0 after clear, got %d", cache.Size())
	}
}
