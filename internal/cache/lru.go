package cache

// lruNode is one entry in the usage-order list. head = most recently used,
// tail = least recently used. Unlike a sentinel-based list, head/tail here
// point directly at real nodes (or are nil when the list is empty) because
// cache.evict needs to observe "this is the real head" to apply the
// head-boundary eviction rule below.
type lruNode struct {
	name       string
	prev, next *lruNode
}

// lruList tracks cache entries in most-recent-use order. It holds no lock
// of its own: every operation runs under the Table's caller-held lock.
type lruList struct {
	head, tail *lruNode
	nodes      map[string]*lruNode
}

func newLRUList() *lruList {
	return &lruList{nodes: make(map[string]*lruNode)}
}

func (l *lruList) len() int {
	return len(l.nodes)
}

// pushFront splices n in as the new head. n must not already be linked.
func (l *lruList) pushFront(n *lruNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

// admit allocates a new head node for name. Called immediately after a
// successful insert.
func (l *lruList) admit(name string) {
	n := &lruNode{name: name}
	l.nodes[name] = n
	l.pushFront(n)
}

// touch moves the node for name to the head. name not being present is a
// programming error: G2 guarantees every live entry has exactly one node.
func (l *lruList) touch(name string) {
	n, ok := l.nodes[name]
	if !ok {
		panic("cache: touch of name absent from lru list")
	}
	if n == l.head {
		return
	}
	l.unlinkInPlace(n)
	l.pushFront(n)
}

// unlinkInPlace removes n from the list without touching the name index.
func (l *lruList) unlinkInPlace(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// remove unlinks n and drops it from the name index. Used by eviction,
// which retires the node and its entry together under the lock.
func (l *lruList) remove(n *lruNode) {
	l.unlinkInPlace(n)
	delete(l.nodes, n.name)
}
