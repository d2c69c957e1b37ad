package engine

import (
	"context"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// Connector executes physical queries against a backend.
//
// Execute may block; the manager calls it from its own goroutine and never
// from the Run loop. The context is cancelled when the manager stops, which
// connectors may use as a best-effort abort. Embedded, socket and HTTP
// backends all satisfy this shape.
type Connector interface {
	Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error)

// Execute calls f(ctx, q).
func (f ConnectorFunc) Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
	return f(ctx, q)
}
