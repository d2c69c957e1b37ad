package engine

import (
	"sync"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/selection"
)

// Client is a view that fetches its data through a Coordinator.
//
// Clients are identified by identity, so implementations must be pointer
// types. The same value is used as the clause source when the client
// publishes into a Selection, which is what lets crossfilter exclude a
// client's own clauses.
type Client interface {
	// Query returns the query to run under filter (nil filter means
	// unconstrained), or nil when no fetch is needed.
	Query(filter queryir.Predicate) queryir.Query

	// QueryResult ingests a result. It is only ever called with a result
	// newer than the last one delivered.
	QueryResult(t *ir.Table)

	// QueryError ingests a failure. Failures are never reported as empty
	// results.
	QueryError(err error)

	// FilterBy returns the selection this client filters by, or nil.
	FilterBy() *selection.Selection
}

// FieldInfoClient is a Client whose query depends on column statistics.
// The coordinator fetches the requested statistics and calls FieldInfo
// before the client's first query.
type FieldInfoClient interface {
	Client
	Fields() []FieldRequest
	FieldInfo(stats []FieldStats)
}

// ParamClient is a Client whose query reads params. It is re-queried
// whenever one of them changes.
type ParamClient interface {
	Client
	Params() []*selection.Param
}

// Prioritized is a Client that declares a request priority.
type Prioritized interface {
	Priority() Priority
}

// PendingNotifier is a Client that wants to know when a request for it has
// been submitted, for example to show a loading state.
type PendingNotifier interface {
	QueryPending()
}

// updateBinder is satisfied by clients embedding BaseClient.
type updateBinder interface {
	bindUpdate(fn func() error)
}

// BaseClient provides RequestUpdate to embedding clients. The coordinator
// binds it on registration and unbinds it on unregistration.
//
// Thread-safety: BaseClient is safe for concurrent use.
type BaseClient struct {
	mu     sync.Mutex
	update func() error
}

// RequestUpdate asks the coordinator to recompute and resubmit this
// client's query. It fails with ErrNotRegistered when the client is not
// registered.
func (b *BaseClient) RequestUpdate() error {
	b.mu.Lock()
	fn := b.update
	b.mu.Unlock()
	if fn == nil {
		return ErrNotRegistered
	}
	return fn()
}

func (b *BaseClient) bindUpdate(fn func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.update = fn
}
