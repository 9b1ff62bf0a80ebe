package subsync

import (
	"fmt"
	"testing"
	"time"
)

func cachedRecord(userID string) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID:                 userID,
		ExternalSubscriptionID: "sub_" + userID,
		Status:                 StatusActive,
		ObservedAt:             time.Now().UTC(),
	}
}

func TestLRUCache_SetAndGet(t *testing.T) {
	cache := NewLRUCache(10)

	cache.SetRecord("user1", cachedRecord("user1"), time.Minute)

	rec, ok := cache.GetRecord("user1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if rec.ExternalSubscriptionID != "sub_user1" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Size != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestLRUCache_Miss(t *testing.T) {
	cache := NewLRUCache(10)

	if _, ok := cache.GetRecord("absent"); ok {
		t.Error("Expected cache miss")
	}
	if stats := cache.Stats(); stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	cache := NewLRUCache(10)

	cache.SetRecord("user1", cachedRecord("user1"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.GetRecord("user1"); ok {
		t.Error("Expected expired entry to miss")
	}
}

func TestLRUCache_Invalidate(t *testing.T) {
	cache := NewLRUCache(10)

	cache.SetRecord("user1", cachedRecord("user1"), time.Minute)
	cache.InvalidateRecord("user1")

	if _, ok := cache.GetRecord("user1"); ok {
		t.Error("Expected invalidated entry to miss")
	}
}

func TestLRUCache_EvictsAtCapacity(t *testing.T) {
	cache := NewLRUCache(3)

	for i := 0; i < 4; i++ {
		user := fmt.Sprintf("user%d", i)
		cache.SetRecord(user, cachedRecord(user), time.Minute)
	}

	stats := cache.Stats()
	if stats.Size != 3 {
		t.Errorf("Expected size 3, got %d", stats.Size)
	}
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestLRUCache_GetReturnsCopy(t *testing.T) {
	cache := NewLRUCache(10)
	cache.SetRecord("user1", cachedRecord("user1"), time.Minute)

	rec, ok := cache.GetRecord("user1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	rec.Status = StatusCanceled

	again, ok := cache.GetRecord("user1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if again.Status != StatusActive {
		t.Error("Mutating a returned record leaked into the cache")
	}
}

func TestLRUCache_Clear(t *testing.T) {
	cache := NewLRUCache(10)
	cache.SetRecord("user1", cachedRecord("user1"), time.Minute)
	cache.SetRecord("user2", cachedRecord("user2"), time.Minute)

	cache.Clear()

	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("Expected empty cache, got size %d", stats.Size)
	}
}
