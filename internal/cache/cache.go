// Package cache implements the content cache described by the dispatch
// core: a fixed-size hash table with chaining, a byte budget enforced by
// LRU eviction, and a pin count that protects an entry whose bytes are
// still being transmitted from being freed out from under the sender.
//
// None of the exported methods take a lock. The Table is designed to be
// embedded in a server that already holds a single mutex for both its
// request queue and its cache state (see internal/dispatch) — every method
// here documents the precondition "caller holds that lock" rather than
// repeating it from the teacher's middleware.Cache, which used its own
// sync.RWMutex because it had no queue to share a lock with.
package cache

// FileData is the immutable-after-publish triple carried by both an
// in-flight request and (when cached) a CacheEntry.
type FileData struct {
	Name  string
	Bytes []byte
	Size  int
}

// Entry is one slot in the cache's hash chains. A deleted entry (tombstone)
// has released its File and exists only so a worker still holding a pin can
// decrement Transmitting safely — see Unpin.
type Entry struct {
	file         *FileData
	transmitting int
	deleted      bool
	chainNext    *Entry
}

// File returns the entry's file data, or nil if the entry has been
// evicted. Callers that hold a pin are guaranteed a non-nil result (G4).
func (e *Entry) File() *FileData {
	if e.deleted {
		return nil
	}
	return e.file
}

// Pin marks the entry as being transmitted by one more worker. Must be
// called under the table's lock.
func (e *Entry) Pin() {
	e.transmitting++
}

// Unpin releases one transmission pin. Must be called under the table's
// lock. A pin count going negative indicates a caller bug — Pin/Unpin were
// not called in matching pairs — and is treated as a ProgrammingError.
func (e *Entry) Unpin() {
	e.transmitting--
	if e.transmitting < 0 {
		panic("cache: transmitting count went negative")
	}
}

// Table is the content cache. Bucket count is chosen at construction and
// is deliberately decoupled from the byte budget (spec.md's source reuses
// MaxCacheSize as the table size; this implementation sizes the table on
// its own magnitude instead, since the chain walk is exhaustive either
// way and a byte budget in the megabytes is a poor proxy for a good bucket
// count).
type Table struct {
	buckets      []*Entry
	bucketCount  int
	maxSize      int
	size         int
	lru          *lruList
	evictedCount int64
	hits         int64
	misses       int64
}

// NewTable creates a cache bounded to maxSize bytes. maxSize == 0 is legal
// but the caller (internal/dispatch) is expected to bypass the cache
// entirely in that case rather than route requests through a zero-budget
// table, per the degenerate-config rule in spec.md §4.1.
func NewTable(maxSize int) *Table {
	count := chooseBucketCount(maxSize)
	return &Table{
		buckets:     make([]*Entry, count),
		bucketCount: count,
		maxSize:     maxSize,
		lru:         newLRUList(),
	}
}

// Stats is a point-in-time snapshot of cache occupancy, useful both for
// metrics export and for asserting invariant P1 in tests.
type Stats struct {
	SizeBytes int
	MaxBytes  int
	Entries   int
	Evictions int64
	Hits      int64
	Misses    int64
}

func (t *Table) Stats() Stats {
	return Stats{
		SizeBytes: t.size,
		MaxBytes:  t.maxSize,
		Entries:   t.lru.len(),
		Evictions: t.evictedCount,
		Hits:      t.hits,
		Misses:    t.misses,
	}
}

func (t *Table) hash(name string) int {
	h := 2*len(name) + 1
	for i := 0; i < len(name); i++ {
		h = h*33 + int(name[i])
	}
	if h < 0 {
		h = -h
	}
	return h % t.bucketCount
}

// Lookup returns the live entry matching name, or nil. Caller holds the
// lock. Used both for ordinary lookups and for the double-check after an
// unlocked disk read — both count toward hits/misses, the same counters
// the teacher-pack LRU cache this pattern is borrowed from keeps on
// every Get.
func (t *Table) Lookup(name string) *Entry {
	e := t.findLive(name)
	if e != nil {
		t.hits++
	} else {
		t.misses++
	}
	return e
}

// findLive walks name's bucket chain for a live entry without touching the
// hit/miss counters. Used internally (Invalidate's existence check) where
// counting would double up against the Lookup call that already decided
// whether this is a hit or a miss for the request in flight.
func (t *Table) findLive(name string) *Entry {
	for e := t.buckets[t.hash(name)]; e != nil; e = e.chainNext {
		if !e.deleted && e.file.Name == name {
			return e
		}
	}
	return nil
}

// Insert adds file to the cache. Precondition: the caller holds the lock
// and has already re-run Lookup(file.Name) after any unlocked disk I/O and
// found nothing (the double-check rule) — Insert does not re-verify this
// itself. Returns nil if the file is larger than the entire budget
// (Uncacheable) or if eviction could not free enough room because every
// candidate is pinned (EvictionBlocked).
func (t *Table) Insert(file FileData) *Entry {
	if file.Size > t.maxSize {
		return nil
	}
	if t.size+file.Size > t.maxSize {
		if !t.evict(t.size + file.Size - t.maxSize) {
			return nil
		}
	}

	t.size += file.Size
	owned := FileData{
		Name:  file.Name,
		Bytes: append([]byte(nil), file.Bytes...),
		Size:  file.Size,
	}
	entry := &Entry{file: &owned}

	h := t.hash(file.Name)
	head := t.buckets[h]
	if head == nil {
		t.buckets[h] = entry
		return entry
	}

	var prev *Entry
	cur := head
	for cur != nil {
		if cur.deleted && cur.transmitting == 0 {
			entry.chainNext = cur.chainNext
			if prev == nil {
				t.buckets[h] = entry
			} else {
				prev.chainNext = entry
			}
			return entry
		}
		prev = cur
		cur = cur.chainNext
	}
	// No reclaimable tombstone: append to the chain tail.
	prev.chainNext = entry
	return entry
}

// Invalidate removes name's live entry regardless of LRU position,
// tombstoning it exactly as eviction would. Used by an external
// staleness policy (see ttl.go) to force a future request past a stale
// cache hit and back out to disk. Returns false — refusing to invalidate
// — both when name isn't live and, same as evict's pin discipline, when
// the live entry is currently pinned: G4 forbids releasing an entry's
// file while transmitting > 0, so a pinned entry is left live and fresh
// until the pin holder unpins it.
func (t *Table) Invalidate(name string) bool {
	e := t.findLive(name)
	if e == nil {
		return false
	}
	if e.transmitting > 0 {
		return false
	}
	node, ok := t.lru.nodes[name]
	if !ok {
		panic("cache: live entry has no matching lru node")
	}
	t.size -= e.file.Size
	t.lru.remove(node)
	e.file = nil
	e.deleted = true
	return true
}

// Touch moves name to the head of the LRU list. Called after a cache hit.
func (t *Table) Touch(name string) {
	t.lru.touch(name)
}

// Admit allocates name a new LRU head node. Called immediately after a
// successful Insert.
func (t *Table) Admit(name string) {
	t.lru.admit(name)
}

// evict frees at least amount bytes by walking the LRU list from the
// tail, skipping (without reordering) any entry still being transmitted.
// It returns false — EvictionBlocked — when it cannot free enough because
// every remaining candidate is pinned.
//
// Open question resolved per spec.md §9: when the walk reaches the real
// head of the list, eviction is attempted there too, and the overall call
// succeeds iff the requested amount has been satisfied after that attempt
// — even though there is nowhere further to step. A pinned head aborts the
// walk with failure, matching "if every live entry is pinned, eviction
// fails".
func (t *Table) evict(amount int) bool {
	node := t.lru.tail
	for amount > 0 {
		if node == nil {
			// G1/G2 guarantee the LRU list is non-empty whenever
			// cache_size_counter > 0; reaching here with unmet demand
			// means the invariants were violated elsewhere.
			panic("cache: lru list exhausted with positive cache_size_counter")
		}

		entry := t.findLive(node.name)
		if entry == nil {
			panic("cache: lru node has no matching live entry")
		}

		if entry.transmitting > 0 {
			if node == t.lru.head {
				return false
			}
			node = node.prev
			continue
		}

		atHead := node == t.lru.head
		prev := node.prev
		amount -= entry.file.Size
		t.size -= entry.file.Size
		t.evictedCount++
		t.lru.remove(node)
		entry.file = nil
		entry.deleted = true

		if atHead {
			return amount <= 0
		}
		node = prev
	}
	return true
}
