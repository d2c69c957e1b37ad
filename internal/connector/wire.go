// Package connector holds the JSON wire format shared by the remote
// connectors (socket, rest) and the server that answers them.
//
// A request carries a compiled query; a response carries either a result
// table or an error message. On the socket transport the ID field
// multiplexes concurrent requests over one connection; the REST transport
// leaves it empty.
package connector

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// ErrClosed is returned by remote connectors after Close, and to requests
// that were in flight when the transport went away.
var ErrClosed = errors.New("connector closed")

// Request is one query sent to a remote backend.
type Request struct {
	ID     string     `json:"id,omitempty"`
	SQL    string     `json:"sql"`
	Params ir.IRArray `json:"params"`
}

// NewRequest builds the wire form of a compiled query.
func NewRequest(id string, q querysql.PhysicalQuery) Request {
	params := ir.IRArray(q.Params)
	if params == nil {
		params = ir.IRArray{}
	}
	return Request{ID: id, SQL: q.SQL, Params: params}
}

// Query returns the compiled query the request carries.
func (r Request) Query() querysql.PhysicalQuery {
	return querysql.PhysicalQuery{SQL: r.SQL, Params: []ir.IRValue(r.Params)}
}

// Validate rejects requests that cannot be executed.
func (r Request) Validate() error {
	if r.SQL == "" {
		return fmt.Errorf("request %q: empty sql", r.ID)
	}
	return nil
}

// Response answers a Request. Exactly one of Table and Error is set.
type Response struct {
	ID    string    `json:"id,omitempty"`
	Table *ir.Table `json:"table,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Result converts the response back into the Connector return pair.
func (r Response) Result() (*ir.Table, error) {
	if r.Error != "" {
		return nil, &RemoteError{Message: r.Error}
	}
	if r.Table == nil {
		return nil, &RemoteError{Message: "response has neither table nor error"}
	}
	return r.Table, nil
}

// RemoteError is a failure reported by the remote backend, as opposed to a
// transport failure reaching it.
type RemoteError struct {
	Status  int // HTTP status, 0 on the socket transport
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Message)
	}
	return "remote error: " + e.Message
}

// IsRemoteError returns true if err is or wraps a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// DecodeRequest parses a request body.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if r.Params == nil {
		r.Params = ir.IRArray{}
	}
	return r, nil
}
