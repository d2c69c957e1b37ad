package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/querysql"
	"github.com/roach88/xfilter/internal/selection"
)

// Coordinator connects clients to a Manager.
//
// It tracks registered clients, re-queries them when the Selection or
// Params they depend on change, and routes each result or failure back to
// the client that asked for it.
//
// Thread-safety: all methods are safe for concurrent use. Client callbacks
// (QueryResult, QueryError, FieldInfo) run on the manager's Run goroutine.
type Coordinator struct {
	manager  *Manager
	compiler *querysql.SQLCompiler
	logger   *slog.Logger
	idGen    ClientIDGenerator
	adhoc    atomic.Int64

	mu      sync.RWMutex
	clients map[Client]*registration
	order   []Client
	groups  map[*selection.Selection]*filterGroup
	params  map[*selection.Param]*paramGroup
}

type registration struct {
	id     ClientID
	client Client
	fields fieldState
}

// fieldState tracks a FieldInfoClient's statistics. Queries are allowed
// only in fieldsReady.
type fieldState int

const (
	fieldsReady fieldState = iota
	fieldsPending
	fieldsFailed
)

// filterGroup is the set of clients filtered by one selection. The
// coordinator holds one listener per selection, not one per client.
type filterGroup struct {
	listener selection.ListenerID
	clients  []Client
}

type paramGroup struct {
	listener selection.ListenerID
	clients  []Client
}

// NewCoordinator creates a Coordinator with its own Manager. conn may be
// nil and supplied later with Connect.
func NewCoordinator(conn Connector, opts ...Option) *Coordinator {
	cfg := buildConfig(opts)
	return &Coordinator{
		manager:  NewManager(conn, opts...),
		compiler: querysql.NewSQLCompiler(),
		logger:   cfg.logger,
		idGen:    cfg.idGen,
		clients:  make(map[Client]*registration),
		groups:   make(map[*selection.Selection]*filterGroup),
		params:   make(map[*selection.Param]*paramGroup),
	}
}

// Manager returns the coordinator's query manager.
func (co *Coordinator) Manager() *Manager {
	return co.manager
}

// Run runs the manager's event loop. See Manager.Run.
func (co *Coordinator) Run(ctx context.Context) error {
	return co.manager.Run(ctx)
}

// Stop stops the manager.
func (co *Coordinator) Stop() {
	co.manager.Stop()
}

// Connect switches to a new connector. Cached results from the previous
// backend are discarded and every registered client is re-queried.
func (co *Coordinator) Connect(conn Connector) error {
	if conn == nil {
		return ErrNoConnector
	}
	co.manager.SetConnector(conn)
	co.logger.Info("connector attached", "connector", fmt.Sprintf("%T", conn))
	return co.RefreshAll()
}

// RegisterClient adds c and issues its first query. A FieldInfoClient
// receives its statistics first. The returned id is the client's identity
// in the manager.
func (co *Coordinator) RegisterClient(c Client) (ClientID, error) {
	if c == nil {
		return "", fmt.Errorf("register: nil client")
	}

	fc, wantsFields := c.(FieldInfoClient)
	var fields []FieldRequest
	if wantsFields {
		fields = fc.Fields()
	}

	co.mu.Lock()
	if _, ok := co.clients[c]; ok {
		co.mu.Unlock()
		return "", ErrAlreadyRegistered
	}
	reg := &registration{id: ClientID(co.idGen.Generate()), client: c}
	if len(fields) > 0 {
		reg.fields = fieldsPending
	}
	co.clients[c] = reg
	co.order = append(co.order, c)
	co.joinGroupsLocked(c)
	co.mu.Unlock()

	if b, ok := c.(updateBinder); ok {
		b.bindUpdate(func() error { return co.RequestQuery(c) })
	}

	co.logger.Info("client registered", "client", reg.id, "type", fmt.Sprintf("%T", c))

	if len(fields) > 0 {
		return reg.id, co.requestFieldInfo(reg, fc, fields)
	}
	return reg.id, co.RequestQuery(c)
}

// UnregisterClient removes c. Nothing is delivered to c afterwards, even
// for requests already in flight.
func (co *Coordinator) UnregisterClient(c Client) error {
	co.mu.Lock()
	reg, ok := co.clients[c]
	if !ok {
		co.mu.Unlock()
		return ErrNotRegistered
	}
	delete(co.clients, c)
	co.order = removeClient(co.order, c)
	co.leaveGroupsLocked(c)
	co.mu.Unlock()

	if b, ok := c.(updateBinder); ok {
		b.bindUpdate(nil)
	}

	co.logger.Info("client unregistered", "client", reg.id)
	if err := co.manager.Release(reg.id); err != nil && !errors.Is(err, ErrManagerStopped) {
		return fmt.Errorf("unregister %s: %w", reg.id, err)
	}
	return nil
}

// Clients returns the registered clients in registration order.
func (co *Coordinator) Clients() []Client {
	co.mu.RLock()
	defer co.mu.RUnlock()
	out := make([]Client, len(co.order))
	copy(out, co.order)
	return out
}

// ClientID returns the identity assigned to c at registration.
func (co *Coordinator) ClientID(c Client) (ClientID, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()
	reg, ok := co.clients[c]
	if !ok {
		return "", false
	}
	return reg.id, true
}

// RequestQuery asks c for its query under its current filter and submits
// it. A client that needs no query has its outstanding requests cancelled.
// A client whose field info failed has it fetched again first.
func (co *Coordinator) RequestQuery(c Client) error {
	co.mu.Lock()
	reg, ok := co.clients[c]
	if !ok {
		co.mu.Unlock()
		return ErrNotRegistered
	}
	state := reg.fields
	if state == fieldsFailed {
		reg.fields = fieldsPending
	}
	co.mu.Unlock()

	switch state {
	case fieldsPending:
		// The query runs once field info arrives.
		return nil
	case fieldsFailed:
		fc := c.(FieldInfoClient)
		if fields := fc.Fields(); len(fields) > 0 {
			co.logger.Info("retrying field info", "client", reg.id)
			return co.requestFieldInfo(reg, fc, fields)
		}
		co.mu.Lock()
		reg.fields = fieldsReady
		co.mu.Unlock()
	}

	var filter queryir.Predicate
	if sel := c.FilterBy(); sel != nil {
		filter = sel.Predicate(c)
	}

	q := c.Query(filter)
	if q == nil {
		co.logger.Debug("client needs no query", "client", reg.id)
		return co.manager.Cancel(reg.id)
	}

	pq, err := co.compiler.Compile(q)
	if err != nil {
		err = fmt.Errorf("compile query for client %s: %w", reg.id, err)
		c.QueryError(err)
		return err
	}

	prio := DefaultPriority
	if p, ok := c.(Prioritized); ok {
		prio = p.Priority()
	}
	if pn, ok := c.(PendingNotifier); ok {
		pn.QueryPending()
	}

	_, err = co.manager.Request(reg.id, pq, prio, func(res Result) {
		// c may have been unregistered between the lookup above and Request.
		if id, ok := co.ClientID(c); !ok || id != reg.id {
			_ = co.manager.Release(reg.id)
			return
		}
		co.deliver(c, res)
	})
	return err
}

// RefreshAll clears the cache and re-queries every registered client.
func (co *Coordinator) RefreshAll() error {
	if err := co.manager.ClearCache(); err != nil {
		return err
	}
	var errs []error
	for _, c := range co.Clients() {
		if err := co.RequestQuery(c); err != nil && !errors.Is(err, ErrNotRegistered) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Query runs q outside any client and waits for the result. It shares the
// cache and consolidation with client queries.
func (co *Coordinator) Query(ctx context.Context, q queryir.Query, prio Priority) (*ir.Table, error) {
	pq, err := co.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	return co.Exec(ctx, pq, prio)
}

// Exec runs a physical query outside any client and waits for the result.
func (co *Coordinator) Exec(ctx context.Context, pq querysql.PhysicalQuery, prio Priority) (*ir.Table, error) {
	id := ClientID(fmt.Sprintf("adhoc-%d", co.adhoc.Add(1)))
	ch := make(chan Result, 1)
	if _, err := co.manager.Request(id, pq, prio, func(r Result) {
		_ = co.manager.Release(id)
		ch <- r
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.Table, r.Err
	case <-ctx.Done():
		_ = co.manager.Release(id)
		return nil, ctx.Err()
	}
}

func (co *Coordinator) deliver(c Client, res Result) {
	if res.Err != nil {
		co.logger.Warn("query failed", "client", res.Client, "error", res.Err)
		c.QueryError(res.Err)
		return
	}
	co.logger.Debug("query result",
		"client", res.Client,
		"generation", res.Generation,
		"rows", res.Table.NumRows(),
		"cached", res.Cached,
	)
	c.QueryResult(res.Table)
}

// requestFieldInfo fetches every requested statistic, then hands them to
// the client and issues its first query. Each field is requested under
// its own identity so the requests do not supersede one another.
func (co *Coordinator) requestFieldInfo(reg *registration, fc FieldInfoClient, fields []FieldRequest) error {
	stats := make([]FieldStats, len(fields))
	remaining := len(fields)
	failed := false

	for i, f := range fields {
		i, f := i, f
		sel, err := SummaryQuery(f)
		if err == nil {
			var pq querysql.PhysicalQuery
			if pq, err = co.compiler.Compile(sel); err == nil {
				id := ClientID(fmt.Sprintf("%s/field/%d", reg.id, i))
				_, err = co.manager.Request(id, pq, PriorityHigh, func(res Result) {
					_ = co.manager.Release(id)
					// Handlers run on the Run loop, so this state needs no lock.
					if failed {
						return
					}
					if res.Err != nil {
						failed = true
						co.fieldInfoFailed(reg, fc, fmt.Errorf("field info %s.%s: %w", f.Table, f.Column, res.Err))
						return
					}
					s, perr := ParseSummary(f, res.Table)
					if perr != nil {
						failed = true
						co.fieldInfoFailed(reg, fc, perr)
						return
					}
					stats[i] = s
					remaining--
					if remaining == 0 {
						co.fieldInfoReady(reg, fc, stats)
					}
				})
			}
		}
		if err != nil {
			err = fmt.Errorf("field info for client %s: %w", reg.id, err)
			co.fieldInfoFailed(reg, fc, err)
			return err
		}
	}
	return nil
}

// fieldInfoFailed marks fc's field info as failed, so the next
// RequestQuery fetches it again, and reports err to fc.
func (co *Coordinator) fieldInfoFailed(reg *registration, fc FieldInfoClient, err error) {
	co.mu.Lock()
	ok := co.clients[fc] == reg
	if ok {
		reg.fields = fieldsFailed
	}
	co.mu.Unlock()
	if ok {
		fc.QueryError(err)
	}
}

func (co *Coordinator) fieldInfoReady(reg *registration, fc FieldInfoClient, stats []FieldStats) {
	co.mu.Lock()
	ok := co.clients[fc] == reg
	if ok {
		reg.fields = fieldsReady
	}
	co.mu.Unlock()
	if !ok {
		return
	}

	fc.FieldInfo(stats)
	if err := co.RequestQuery(fc); err != nil {
		co.logger.Warn("initial query failed", "client", reg.id, "error", err)
	}
}

// joinGroupsLocked subscribes c to its selection and params.
// Caller holds co.mu.
func (co *Coordinator) joinGroupsLocked(c Client) {
	if sel := c.FilterBy(); sel != nil {
		g, ok := co.groups[sel]
		if !ok {
			g = &filterGroup{}
			g.listener = sel.AddListener(selection.EventValue, func(selection.Event) {
				co.requeryGroup(co.selectionClients(sel))
			})
			co.groups[sel] = g
		}
		g.clients = append(g.clients, c)
	}

	if pc, ok := c.(ParamClient); ok {
		for _, p := range pc.Params() {
			if p == nil {
				continue
			}
			g, ok := co.params[p]
			if !ok {
				p := p
				g = &paramGroup{}
				g.listener = p.AddListener(selection.EventValue, func(selection.Event) {
					co.requeryGroup(co.paramClients(p))
				})
				co.params[p] = g
			}
			g.clients = append(g.clients, c)
		}
	}
}

// leaveGroupsLocked reverses joinGroupsLocked, removing listeners from
// containers no registered client depends on any more.
// Caller holds co.mu.
func (co *Coordinator) leaveGroupsLocked(c Client) {
	if sel := c.FilterBy(); sel != nil {
		if g, ok := co.groups[sel]; ok {
			g.clients = removeClient(g.clients, c)
			if len(g.clients) == 0 {
				sel.RemoveListener(selection.EventValue, g.listener)
				delete(co.groups, sel)
			}
		}
	}

	if pc, ok := c.(ParamClient); ok {
		for _, p := range pc.Params() {
			g, ok := co.params[p]
			if !ok {
				continue
			}
			g.clients = removeClient(g.clients, c)
			if len(g.clients) == 0 {
				p.RemoveListener(selection.EventValue, g.listener)
				delete(co.params, p)
			}
		}
	}
}

func (co *Coordinator) selectionClients(sel *selection.Selection) []Client {
	co.mu.RLock()
	defer co.mu.RUnlock()
	g, ok := co.groups[sel]
	if !ok {
		return nil
	}
	return append([]Client(nil), g.clients...)
}

func (co *Coordinator) paramClients(p *selection.Param) []Client {
	co.mu.RLock()
	defer co.mu.RUnlock()
	g, ok := co.params[p]
	if !ok {
		return nil
	}
	return append([]Client(nil), g.clients...)
}

func (co *Coordinator) requeryGroup(clients []Client) {
	for _, c := range clients {
		if err := co.RequestQuery(c); err != nil && !errors.Is(err, ErrNotRegistered) {
			co.logger.Warn("re-query failed", "error", err)
		}
	}
}

func removeClient(list []Client, c Client) []Client {
	for i, x := range list {
		if x == c {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
