package engine

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// ClientID identifies a requester.
type ClientID string

// Result is what a requester receives for one request.
//
// Exactly one of Table and Err is set. Err is always a *ConnectorError, so
// a failure is never confused with an empty table.
type Result struct {
	Client     ClientID
	Generation int64
	Key        string
	Table      *ir.Table
	Err        error
	Cached     bool
}

// Handler receives results. It runs on the manager's Run goroutine, so it
// must not block on the manager (Sync, Drain); submitting new requests is
// fine.
type Handler func(Result)

// requester is one (client, generation) waiting on a pending request.
type requester struct {
	client     ClientID
	generation int64
	handler    Handler
}

// pendingRequest is the in-flight work for one key.
type pendingRequest struct {
	key        string
	query      querysql.PhysicalQuery
	priority   Priority
	seq        int64
	epoch      int64
	dispatched bool
	requesters []requester
	index      int // position in the dispatch heap, -1 when not queued
}

// join adds r, replacing an older entry from the same client. It reports
// whether r's client is new to p.
func (p *pendingRequest) join(r requester) bool {
	for i := range p.requesters {
		if p.requesters[i].client == r.client {
			p.requesters[i] = r
			return false
		}
	}
	p.requesters = append(p.requesters, r)
	return true
}

// leave removes client and reports whether it was present.
func (p *pendingRequest) leave(client ClientID) bool {
	for i := range p.requesters {
		if p.requesters[i].client == client {
			p.requesters = append(p.requesters[:i], p.requesters[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	// Outstanding counts distinct keys queued or in flight.
	Outstanding int64
	// InFlight counts connector calls currently running.
	InFlight int64
	// Queued counts events not yet processed by the Run loop.
	Queued       int
	CacheEntries int
	// Clients counts clients whose generation clock is still held.
	Clients int

	CacheHits    int64
	Consolidated int64
	Dispatched   int64
	Delivered    int64
	Failed       int64
	Stale        int64
}

type managerCounters struct {
	outstanding  atomic.Int64
	inflight     atomic.Int64
	cacheHits    atomic.Int64
	consolidated atomic.Int64
	dispatched   atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	stale        atomic.Int64
}

type connectorHolder struct {
	c Connector
}

// Manager schedules query requests against a Connector.
//
// Every request is stamped with its client's next generation. The Run loop
// answers from the Cache when it can, merges requests for a key that is
// already pending, and otherwise dispatches one connector call per key in
// priority order. A result is delivered to a requester only while the
// requester's generation is still the latest one issued to its client, so
// a slow answer can never overwrite a newer one.
//
// Thread-safety model:
//   - Request, Cancel, ClearCache, Sync, Drain, Stats: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - The cache and the pending table are only mutated by the Run loop
type Manager struct {
	connector atomic.Pointer[connectorHolder]
	cache     *Cache
	queue     *eventQueue
	gens      *generations
	logger    *slog.Logger

	maxConcurrent int

	// Owned by the Run loop.
	pending  map[string]*pendingRequest
	ready    dispatchQueue
	inflight int
	epoch    int64
	seq      int64
	drainers []chan struct{}
	execCtx  context.Context
	live     map[ClientID]int      // requesters per client across pending requests
	released map[ClientID]struct{} // released clients still waiting on live requests

	counters managerCounters

	done     chan struct{}
	doneOnce sync.Once
}

// NewManager creates a Manager. conn may be nil and set later with
// SetConnector; requests dispatched without a connector fail with
// ErrNoConnector.
func NewManager(conn Connector, opts ...Option) *Manager {
	cfg := buildConfig(opts)
	m := &Manager{
		cache:         cfg.cache,
		queue:         newEventQueue(),
		gens:          newGenerations(),
		logger:        cfg.logger,
		maxConcurrent: cfg.maxConcurrent,
		pending:       make(map[string]*pendingRequest),
		live:          make(map[ClientID]int),
		released:      make(map[ClientID]struct{}),
		execCtx:       context.Background(),
		done:          make(chan struct{}),
	}
	m.SetConnector(conn)
	return m
}

// SetConnector replaces the connector used for future dispatches.
func (m *Manager) SetConnector(c Connector) {
	m.connector.Store(&connectorHolder{c: c})
}

// Connector returns the current connector (nil if none).
func (m *Manager) Connector() Connector {
	if h := m.connector.Load(); h != nil {
		return h.c
	}
	return nil
}

// Cache returns the manager's cache for inspection. Callers must not write
// to it; use ClearCache to invalidate.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Request submits q for client and returns the generation it was stamped
// with. Every earlier request from the same client is superseded from this
// moment on. h receives at most one Result for this generation.
func (m *Manager) Request(client ClientID, q querysql.PhysicalQuery, prio Priority, h Handler) (int64, error) {
	key, err := q.Key()
	if err != nil {
		return 0, fmt.Errorf("request key: %w", err)
	}
	if m.queue.Closed() {
		return 0, ErrManagerStopped
	}

	gen := m.gens.next(client)
	ok := m.queue.Enqueue(event{
		kind:       eventRequest,
		client:     client,
		generation: gen,
		key:        key,
		query:      q,
		priority:   prio.valid(),
		handler:    h,
	})
	if !ok {
		return 0, ErrManagerStopped
	}

	m.logger.Debug("request stamped",
		"client", client,
		"generation", gen,
		"key", shortKey(key),
		"priority", prio.valid().String(),
	)
	return gen, nil
}

// Cancel guarantees that client receives nothing for any request issued
// before this call. Connector calls already running are not aborted; their
// results may still populate the cache.
func (m *Manager) Cancel(client ClientID) error {
	m.gens.next(client)
	if !m.queue.Enqueue(event{kind: eventCancel, client: client}) {
		return ErrManagerStopped
	}
	return nil
}

// Release cancels client like Cancel and frees its bookkeeping once no
// request for it is pending or in flight. Use it for requesters that are
// gone for good; callers must not submit new requests for client
// afterwards.
func (m *Manager) Release(client ClientID) error {
	m.gens.next(client)
	if !m.queue.Enqueue(event{kind: eventRelease, client: client}) {
		return ErrManagerStopped
	}
	return nil
}

// Generation returns the latest generation issued to client.
func (m *Manager) Generation(client ClientID) int64 {
	return m.gens.current(client)
}

// ClearCache evicts every cached result. Requests submitted after this call
// never reuse a result computed before it: connector calls already in
// flight still answer their current requesters but are not cached and do
// not absorb new requests.
func (m *Manager) ClearCache() error {
	if !m.queue.Enqueue(event{kind: eventClearCache}) {
		return ErrManagerStopped
	}
	return nil
}

// Sync blocks until every event submitted before the call has been
// processed by the Run loop. It does not wait for connector calls.
func (m *Manager) Sync(ctx context.Context) error {
	return m.await(ctx, eventBarrier)
}

// Drain blocks until the manager is idle: no event waiting, no key queued
// and no connector call in flight. Work submitted by handlers during the
// wait is waited for too. A hung connector keeps Drain waiting until ctx
// ends.
func (m *Manager) Drain(ctx context.Context) error {
	return m.await(ctx, eventDrain)
}

func (m *Manager) await(ctx context.Context, kind eventKind) error {
	done := make(chan struct{})
	if !m.queue.Enqueue(event{kind: kind, done: done}) {
		return ErrManagerStopped
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Outstanding:  m.counters.outstanding.Load(),
		InFlight:     m.counters.inflight.Load(),
		Queued:       m.queue.Len(),
		CacheEntries: m.cache.Len(),
		Clients:      m.gens.len(),
		CacheHits:    m.counters.cacheHits.Load(),
		Consolidated: m.counters.consolidated.Load(),
		Dispatched:   m.counters.dispatched.Load(),
		Delivered:    m.counters.delivered.Load(),
		Failed:       m.counters.failed.Load(),
		Stale:        m.counters.stale.Load(),
	}
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop() is called. Connector calls
// receive a context derived from ctx that is cancelled when Run returns.
//
// On event processing failure the error is logged and processing
// continues.
func (m *Manager) Run(ctx context.Context) error {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.doneOnce.Do(func() { close(m.done) })
	m.execCtx = execCtx

	m.logger.Info("query manager starting", "max_concurrent", m.maxConcurrent)

	for {
		ev, ok := m.queue.TryDequeue()
		if ok {
			if err := m.processEvent(ev); err != nil {
				m.logger.Error("event processing failed",
					"kind", ev.kind.String(),
					"client", ev.client,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			m.logger.Info("query manager stopping: context cancelled")
			m.queue.Close()
			return ctx.Err()

		case <-m.queue.Wait():
			// The signal channel closes with the queue.
			if m.queue.Len() == 0 && m.queue.Closed() {
				m.logger.Info("query manager stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the manager. Events already queued are
// processed before Run returns; later submissions fail with
// ErrManagerStopped.
func (m *Manager) Stop() {
	m.queue.Close()
}

// processEvent routes an event to its handler.
// Called only from Run() goroutine.
func (m *Manager) processEvent(ev event) error {
	switch ev.kind {
	case eventRequest:
		m.processRequest(ev)

	case eventCompletion:
		if ev.pending == nil {
			return fmt.Errorf("completion event missing pending request")
		}
		m.processCompletion(ev)

	case eventCancel:
		m.detach(ev.client, "")
		m.logger.Debug("client cancelled", "client", ev.client)

	case eventRelease:
		m.detach(ev.client, "")
		if m.live[ev.client] == 0 {
			m.gens.forget(ev.client)
		} else {
			m.released[ev.client] = struct{}{}
		}
		m.logger.Debug("client released", "client", ev.client)

	case eventClearCache:
		m.clearCache()

	case eventBarrier:
		close(ev.done)

	case eventDrain:
		m.drainers = append(m.drainers, ev.done)

	default:
		return fmt.Errorf("unknown event kind: %d", ev.kind)
	}

	m.pump()
	m.notifyIdle()
	return nil
}

func (m *Manager) processRequest(ev event) {
	if m.gens.stale(ev.client, ev.generation) {
		m.dropStale(ev.client, ev.generation, ev.key)
		return
	}

	// Older requests from this client can no longer be delivered.
	m.detach(ev.client, ev.key)

	r := requester{client: ev.client, generation: ev.generation, handler: ev.handler}

	if tbl, ok := m.cache.Get(ev.key); ok {
		m.counters.cacheHits.Add(1)
		requestsTotal.WithLabelValues(outcomeCacheHit).Inc()
		m.logger.Debug("cache hit", "client", ev.client, "key", shortKey(ev.key))
		m.deliver(r, Result{Key: ev.key, Table: tbl, Cached: true})
		return
	}

	if p, ok := m.pending[ev.key]; ok {
		if p.join(r) {
			m.live[r.client]++
		}
		m.ready.raise(p, ev.priority)
		m.counters.consolidated.Add(1)
		requestsTotal.WithLabelValues(outcomeConsolidated).Inc()
		m.logger.Debug("request consolidated",
			"client", ev.client,
			"key", shortKey(ev.key),
			"requesters", len(p.requesters),
		)
		return
	}

	m.seq++
	p := &pendingRequest{
		key:        ev.key,
		query:      ev.query,
		priority:   ev.priority,
		seq:        m.seq,
		epoch:      m.epoch,
		requesters: []requester{r},
		index:      -1,
	}
	m.pending[ev.key] = p
	m.live[r.client]++
	heap.Push(&m.ready, p)
	m.counters.outstanding.Add(1)
	pendingRequests.Inc()
}

// pump dispatches queued requests while the concurrency bound allows.
func (m *Manager) pump() {
	for m.ready.Len() > 0 && (m.maxConcurrent <= 0 || m.inflight < m.maxConcurrent) {
		p := heap.Pop(&m.ready).(*pendingRequest)
		p.dispatched = true
		m.inflight++
		m.counters.inflight.Add(1)
		m.counters.dispatched.Add(1)
		requestsTotal.WithLabelValues(outcomeDispatched).Inc()

		m.logger.Debug("dispatching",
			"key", shortKey(p.key),
			"priority", p.priority.String(),
			"requesters", len(p.requesters),
		)
		go m.execute(m.execCtx, p)
	}
}

// execute runs one connector call and reports back to the Run loop.
func (m *Manager) execute(ctx context.Context, p *pendingRequest) {
	start := time.Now()

	var (
		tbl *ir.Table
		err error
	)
	if conn := m.Connector(); conn == nil {
		err = ErrNoConnector
	} else {
		tbl, err = conn.Execute(ctx, p.query)
	}

	label := "ok"
	if err != nil {
		label = "error"
	} else if tbl == nil {
		tbl = &ir.Table{}
	}
	connectorDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if !m.queue.Enqueue(event{kind: eventCompletion, pending: p, table: tbl, err: err}) {
		m.logger.Debug("completion dropped: manager stopped", "key", shortKey(p.key))
	}
}

func (m *Manager) processCompletion(ev event) {
	p := ev.pending

	m.inflight--
	m.counters.inflight.Add(-1)
	m.counters.outstanding.Add(-1)
	pendingRequests.Dec()
	if cur, ok := m.pending[p.key]; ok && cur == p {
		delete(m.pending, p.key)
	}

	var failure error
	if ev.err != nil {
		failure = &ConnectorError{Key: p.key, SQL: p.query.SQL, Err: ev.err}
		m.logger.Warn("connector failed",
			"key", shortKey(p.key),
			"requesters", len(p.requesters),
			"error", ev.err,
		)
	} else if p.epoch == m.epoch {
		m.cache.Set(p.key, ev.table)
	} else {
		m.logger.Debug("result not cached: cache cleared since dispatch", "key", shortKey(p.key))
	}

	for _, r := range p.requesters {
		res := Result{Key: p.key}
		if failure != nil {
			res.Err = failure
		} else {
			res.Table = ev.table
		}
		m.deliver(r, res)
		m.unref(r.client)
	}
}

// deliver hands res to r unless r has been superseded.
func (m *Manager) deliver(r requester, res Result) {
	if m.gens.stale(r.client, r.generation) {
		m.dropStale(r.client, r.generation, res.Key)
		return
	}

	res.Client = r.client
	res.Generation = r.generation
	if res.Err != nil {
		m.counters.failed.Add(1)
		deliveriesTotal.WithLabelValues(outcomeFailed).Inc()
	} else {
		m.counters.delivered.Add(1)
		deliveriesTotal.WithLabelValues(outcomeDelivered).Inc()
	}

	if r.handler != nil {
		r.handler(res)
	}
}

func (m *Manager) dropStale(client ClientID, gen int64, key string) {
	m.counters.stale.Add(1)
	deliveriesTotal.WithLabelValues(outcomeStale).Inc()
	m.logger.Debug("discarding stale result",
		"client", client,
		"generation", gen,
		"latest", m.gens.current(client),
		"key", shortKey(key),
	)
}

// detach removes client from every queued request except the one for
// keep, dropping requests left with no requesters. Dispatched requests
// keep the client; its superseded generation is discarded on delivery.
func (m *Manager) detach(client ClientID, keep string) {
	for key, p := range m.pending {
		if key == keep || p.dispatched || !p.leave(client) {
			continue
		}
		m.unref(client)
		if len(p.requesters) == 0 {
			m.ready.remove(p)
			delete(m.pending, key)
			m.counters.outstanding.Add(-1)
			pendingRequests.Dec()
			m.logger.Debug("dropped request with no requesters", "key", shortKey(key))
		}
	}
}

// unref drops one live requester of client, forgetting a released client's
// clock with its last one.
func (m *Manager) unref(client ClientID) {
	if n := m.live[client] - 1; n > 0 {
		m.live[client] = n
		return
	}
	delete(m.live, client)
	if _, ok := m.released[client]; ok {
		delete(m.released, client)
		m.gens.forget(client)
	}
}

func (m *Manager) clearCache() {
	m.cache.Clear()
	m.epoch++
	for key, p := range m.pending {
		if p.dispatched {
			// Still delivers to its requesters, but is no longer joinable.
			delete(m.pending, key)
			continue
		}
		p.epoch = m.epoch
	}
	cacheClearsTotal.Inc()
	m.logger.Debug("cache cleared", "epoch", m.epoch)
}

func (m *Manager) notifyIdle() {
	if len(m.drainers) == 0 || m.counters.outstanding.Load() != 0 || m.queue.Len() != 0 {
		return
	}
	for _, d := range m.drainers {
		close(d)
	}
	m.drainers = nil
}
