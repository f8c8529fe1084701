package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTTLPolicyExpiry(t *testing.T) {
	p := NewTTLPolicy(10 * time.Millisecond)
	base := time.Now()
	p.Stamp("x", base)

	if p.Expired("x", base.Add(5*time.Millisecond)) {
		t.Fatal("expected entry not yet expired")
	}
	if !p.Expired("x", base.Add(20*time.Millisecond)) {
		t.Fatal("expected entry to be expired after TTL elapses")
	}
}

func TestTTLPolicyUnstampedNameNeverExpires(t *testing.T) {
	p := NewTTLPolicy(time.Millisecond)
	if p.Expired("never-stamped", time.Now().Add(time.Hour)) {
		t.Fatal("expected a name with no stamp to never report expired")
	}
}

func TestInvalidateRemovesLiveEntryOutOfLRUOrder(t *testing.T) {
	table := NewTable(1000)
	mustInsert(t, table, "a", 100)
	mustInsert(t, table, "b", 100) // b is the LRU head, a the tail

	if !table.Invalidate("b") {
		t.Fatal("expected invalidate to find and remove b")
	}
	if table.Lookup("b") != nil {
		t.Fatal("expected b to no longer be live")
	}
	if table.Stats().SizeBytes != 100 {
		t.Fatalf("expected size to drop to 100, got %d", table.Stats().SizeBytes)
	}
	if table.Invalidate("missing") {
		t.Fatal("expected invalidate of an absent name to report false")
	}
}

// TestInvalidateNeverReleasesAPinnedEntry covers G4 in the presence of TTL
// staleness: one goroutine holds a pin mid-transmission while another
// (standing in for a second request's stale-hit check) tries to invalidate
// the same name. Invalidate must refuse exactly as evict skips a pinned
// candidate, rather than releasing file bytes out from under the sender.
func TestInvalidateNeverReleasesAPinnedEntry(t *testing.T) {
	table := NewTable(1000)
	entry := mustInsert(t, table, "a", 100)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sending := make(chan struct{})
	release := make(chan struct{})

	mu.Lock()
	entry.Pin()
	mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		close(sending)
		<-release
		mu.Lock()
		entry.Unpin()
		mu.Unlock()
	}()

	<-sending
	mu.Lock()
	if table.Invalidate("a") {
		t.Fatal("expected invalidate to refuse a pinned entry")
	}
	if entry.File() == nil {
		t.Fatal("expected pinned entry's file to remain live (G4 violated)")
	}
	if table.Stats().SizeBytes != 100 {
		t.Fatalf("expected size to remain 100 while invalidate is refused, got %d", table.Stats().SizeBytes)
	}
	mu.Unlock()

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !table.Invalidate("a") {
		t.Fatal("expected invalidate to succeed once the pin is released")
	}
	if table.Lookup("a") != nil {
		t.Fatal("expected a to no longer be live")
	}
}
