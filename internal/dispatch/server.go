// Package dispatch is the concurrency core: the single mutex and pair of
// condition variables shared by the request buffer and the content cache,
// the worker pool that drains the buffer, and the wire-level protocol that
// turns a dequeued connection into a served file. Grounded on the teacher
// proxy's internal/proxy.Server for the accept-loop / Start / Shutdown
// lifecycle shape, but the request-handling body itself is new: the
// teacher proxied HTTP to backends, this serves files from a cache or
// disk directly.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/netshelf/filedispatch/internal/admission"
	"github.com/netshelf/filedispatch/internal/cache"
	"github.com/netshelf/filedispatch/internal/config"
	"github.com/netshelf/filedispatch/internal/logging"
	"github.com/netshelf/filedispatch/internal/metrics"
	"github.com/netshelf/filedispatch/internal/queue"
	"github.com/netshelf/filedispatch/internal/request"
)

// Server owns the request buffer, the content cache, and the worker pool
// that drains it. A single mutex guards both the buffer and the cache —
// never two separate locks — so the deadlock-freedom argument in spec.md
// §5 holds by construction.
type Server struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	closed   bool

	buf          *queue.Buffer
	table        *cache.Table
	nrThreads    int
	maxCacheSize int
	root         string

	limiter       *admission.Limiter
	selector      WorkerSelector
	metrics       *metrics.Metrics
	logger        *logging.Logger
	ttl           *cache.TTLPolicy
	lastEvictions int64
	lastHits      int64
	lastMisses    int64

	listener net.Listener
	wg       sync.WaitGroup
}

// Init builds the dispatch core with the degenerate-config rules spec.md
// §4.1 calls for: nrThreads == 0 makes Submit serve synchronously inline,
// bypassing the buffer entirely; maxCacheSizeBytes == 0 makes every
// request go direct-to-disk with no cache locking at all.
func Init(nrThreads, maxRequests, maxCacheSizeBytes int) (*Server, error) {
	if nrThreads < 0 {
		return nil, fmt.Errorf("dispatch: nrThreads must be >= 0, got %d", nrThreads)
	}
	if maxRequests < 0 {
		return nil, fmt.Errorf("dispatch: maxRequests must be >= 0, got %d", maxRequests)
	}
	if maxCacheSizeBytes < 0 {
		return nil, fmt.Errorf("dispatch: maxCacheSizeBytes must be >= 0, got %d", maxCacheSizeBytes)
	}

	s := &Server{
		buf:          queue.NewBuffer(maxRequests),
		nrThreads:    nrThreads,
		maxCacheSize: maxCacheSizeBytes,
		root:         ".",
	}
	if maxCacheSizeBytes > 0 {
		s.table = cache.NewTable(maxCacheSizeBytes)
	}
	s.notFull = sync.NewCond(&s.mu)
	s.notEmpty = sync.NewCond(&s.mu)

	if nrThreads > 0 {
		selector, err := NewWorkerSelector(RoundRobin, nrThreads)
		if err != nil {
			return nil, err
		}
		s.selector = selector
	}

	return s, nil
}

// NewServer is the ambient constructor: it wires config, logging,
// metrics, and admission control around Init, mirroring the teacher's
// proxy.NewServer factory.
func NewServer(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Server, error) {
	s, err := Init(cfg.Workers.NrThreads, cfg.Workers.MaxRequests, cfg.Cache.MaxSizeBytes)
	if err != nil {
		return nil, err
	}
	s.root = cfg.Server.Root
	s.logger = logger
	s.metrics = m
	s.limiter = admission.NewLimiter(cfg.Admission.Enabled, cfg.Admission.Capacity, cfg.Admission.RefillRate)
	if cfg.Cache.TTL > 0 {
		s.ttl = cache.NewTTLPolicy(cfg.Cache.TTL)
	}

	if cfg.Workers.NrThreads > 0 {
		selector, err := NewWorkerSelector(Algorithm(cfg.Workers.Algorithm), cfg.Workers.NrThreads)
		if err != nil {
			return nil, err
		}
		s.selector = selector
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen on %s: %w", cfg.Server.Addr, err)
	}
	s.listener = listener

	return s, nil
}

// Stats exposes the cache's point-in-time occupancy, for metrics export
// and health endpoints.
func (s *Server) Stats() cache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return cache.Stats{}
	}
	return s.table.Stats()
}

// Submit hands conn to the dispatch core. With nrThreads == 0 it serves
// the connection synchronously on the calling goroutine, per spec.md's
// bypass rule; otherwise it blocks until the request buffer has room,
// enqueues, and returns.
func (s *Server) Submit(conn net.Conn) {
	if s.limiter != nil && !s.limiter.Admit(conn) {
		conn.Close()
		return
	}

	if s.nrThreads == 0 {
		s.serve(conn)
		return
	}

	s.mu.Lock()
	for s.buf.Full() && !s.closed {
		s.notFull.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	becameNonEmpty := s.buf.Push(conn)
	s.reportQueueDepthLocked()
	s.mu.Unlock()

	if becameNonEmpty {
		s.notEmpty.Signal()
	}
}

// Start launches the worker pool (when nrThreads > 0) and an accept loop
// over the server's listener, and blocks until ctx is cancelled or the
// listener fails. On cancellation it shuts down gracefully — the same
// control flow as the teacher's proxy.Server.Start; an accept failure is
// returned as an error without calling Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("dispatch: Start called without a listener (use NewServer)")
	}

	for i := 0; i < s.nrThreads; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.workerLoop(id)
		}(i)
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					errCh <- fmt.Errorf("dispatch: accept: %w", err)
					return
				}
			}
			go s.Submit(conn)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting new connections, wakes any blocked workers so
// they can exit once the buffer drains, and waits for them up to ctx's
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	s.closed = true
	s.notEmpty.Broadcast()
	s.notFull.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workerLoop is one member of the fixed-size worker pool: dequeue, serve,
// repeat, until Shutdown drains the buffer and sets closed.
func (s *Server) workerLoop(id int) {
	for {
		s.mu.Lock()
		for s.buf.Empty() && !s.closed {
			s.notEmpty.Wait()
		}
		if s.buf.Empty() && s.closed {
			s.mu.Unlock()
			return
		}
		conn, becameNonFull := s.buf.Pop()
		s.reportQueueDepthLocked()
		s.mu.Unlock()

		if becameNonFull {
			s.notFull.Signal()
		}

		s.serve(conn)
	}
}

// serve implements the worker protocol from spec.md §4.4: parse, then
// either bypass the cache entirely (MaxCacheSize == 0) or run the
// lookup/hit, miss/double-check/insert sequence under the shared lock.
func (s *Server) serve(conn net.Conn) {
	start := time.Now()
	ctx := context.Background()

	var span trace.Span
	if s.logger != nil {
		ctx, span = s.logger.StartConnection(ctx, conn)
		defer span.End()
	}
	if s.metrics != nil {
		s.metrics.IncrementActiveWorkers()
		defer s.metrics.DecrementActiveWorkers()
	}

	var workerLabel int
	if s.selector != nil {
		workerLabel = s.selector.Next()
		defer s.selector.Release(workerLabel)
	}

	file := &cache.FileData{}
	req, err := request.New(conn, file)
	if err != nil {
		conn.Close()
		s.recordOutcome(ctx, span, "malformed", file.Name, start, err)
		return
	}

	if s.table == nil {
		s.serveUncached(ctx, span, req, file, start)
		return
	}

	s.serveCached(ctx, span, req, file, start)
}

// serveUncached implements the MaxCacheSize == 0 bypass: read from disk
// and send, with no locking at all.
func (s *Server) serveUncached(ctx context.Context, span trace.Span, req *request.Request, file *cache.FileData, start time.Time) {
	if err := req.ReadFile(s.root); err != nil {
		req.Destroy()
		s.recordOutcome(ctx, span, "diskerror", file.Name, start, err)
		return
	}
	err := req.SendFile()
	req.Destroy()
	s.recordOutcome(ctx, span, "nocache", file.Name, start, err)
}

// serveCached implements the full hit/miss/double-check/insert protocol.
func (s *Server) serveCached(ctx context.Context, span trace.Span, req *request.Request, file *cache.FileData, start time.Time) {
	s.mu.Lock()
	entry := s.lookupFreshLocked(file.Name)
	s.reportCacheOccupancyLocked()
	if entry != nil {
		s.servePinned(ctx, span, req, file, entry, start, "hit")
		return
	}
	s.mu.Unlock()

	if err := req.ReadFile(s.root); err != nil {
		req.Destroy()
		s.recordOutcome(ctx, span, "diskerror", file.Name, start, err)
		return
	}

	s.mu.Lock()
	entry = s.lookupFreshLocked(file.Name)
	s.reportCacheOccupancyLocked()
	if entry != nil {
		// Double-check hit: another worker inserted this name while we
		// were reading from disk. Serve from the cache copy and discard
		// the bytes we just read.
		s.servePinned(ctx, span, req, file, entry, start, "hit")
		return
	}

	entry = s.table.Insert(*file)
	if entry == nil {
		s.mu.Unlock()
		err := req.SendFile()
		req.Destroy()
		s.recordOutcome(ctx, span, "uncacheable", file.Name, start, err)
		return
	}
	entry.Pin()
	s.table.Admit(file.Name)
	if s.ttl != nil {
		s.ttl.Stamp(file.Name, time.Now())
	}
	s.reportCacheOccupancyLocked()
	s.mu.Unlock()

	err := req.SendFile()

	s.mu.Lock()
	entry.Unpin()
	s.mu.Unlock()

	req.Destroy()
	s.recordOutcome(ctx, span, "miss", file.Name, start, err)
}

// lookupFreshLocked is Table.Lookup with an optional staleness check
// layered on top: an entry that has outlived the configured TTL is
// invalidated and reported as a miss instead of a hit, the same
// "this is now absent" outcome an ordinary eviction produces. Caller
// holds the lock and is responsible for flushing occupancy/lookup
// metrics (reportCacheOccupancyLocked) afterward.
func (s *Server) lookupFreshLocked(name string) *cache.Entry {
	entry := s.table.Lookup(name)
	if entry == nil {
		return nil
	}
	if s.ttl == nil || !s.ttl.Expired(name, time.Now()) {
		return entry
	}
	if !s.table.Invalidate(name) {
		// Another worker is still transmitting this entry (Table.Invalidate
		// refuses a pinned entry, same as evict). Serving it once more as
		// a stale hit is preferable to returning a miss here: the double-
		// check protocol assumes a miss means the name is absent, and
		// racing an Insert against a still-live entry would produce two
		// live entries for the same name. The entry will invalidate
		// cleanly on the next lookup, once the pin is released.
		return entry
	}
	s.ttl.Forget(name)
	return nil
}

// servePinned serves the request from an already-locked, looked-up live
// entry: point the request's FileData at the entry's bytes (shared, not
// copied), pin, touch LRU, unlock, send, lock-unpin-unlock. The pin keeps
// the shared bytes from being released during the send. Caller holds the
// lock on entry and must not unlock it first.
func (s *Server) servePinned(ctx context.Context, span trace.Span, req *request.Request, file *cache.FileData, entry *cache.Entry, start time.Time, outcome string) {
	cached := entry.File()
	file.Bytes = cached.Bytes
	file.Size = cached.Size
	entry.Pin()
	s.table.Touch(file.Name)
	s.mu.Unlock()

	err := req.SendFile()

	s.mu.Lock()
	entry.Unpin()
	s.mu.Unlock()

	req.Destroy()
	s.recordOutcome(ctx, span, outcome, file.Name, start, err)
}

func (s *Server) recordOutcome(ctx context.Context, span trace.Span, outcome, name string, start time.Time, err error) {
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordRequest(outcome, duration.Seconds())
	}
	if s.logger != nil && span != nil {
		s.logger.LogOutcome(ctx, span, outcome, name, duration, err)
	}
}

func (s *Server) reportCacheOccupancyLocked() {
	if s.metrics == nil || s.table == nil {
		return
	}
	stats := s.table.Stats()
	s.metrics.SetCacheOccupancy(stats.SizeBytes, stats.Entries)
	s.metrics.AddEvictions(int(stats.Evictions - s.lastEvictions))
	s.lastEvictions = stats.Evictions
	s.metrics.AddCacheLookups(stats.Hits-s.lastHits, stats.Misses-s.lastMisses)
	s.lastHits = stats.Hits
	s.lastMisses = stats.Misses
}

func (s *Server) reportQueueDepthLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueDepth(s.buf.Len())
}
