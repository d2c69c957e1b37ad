package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerStopped is returned when work is submitted after Stop.
	ErrManagerStopped = errors.New("query manager stopped")

	// ErrNotRegistered is returned for operations on an unknown client.
	ErrNotRegistered = errors.New("client not registered")

	// ErrAlreadyRegistered is returned when a client registers twice.
	ErrAlreadyRegistered = errors.New("client already registered")

	// ErrNoConnector is returned when a coordinator has no connector.
	ErrNoConnector = errors.New("no connector")
)

// ConnectorError wraps a failure reported by a Connector.
//
// It is delivered to every current requester of the failed key, so a
// failure is always distinguishable from an empty result. Failed results
// are never cached and never retried.
type ConnectorError struct {
	// Key is the request key of the failed physical query.
	Key string

	// SQL is the query text, for diagnostics.
	SQL string

	// Err is the connector's error.
	Err error
}

// Error implements the error interface.
func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector failed for key %s: %v", shortKey(e.Key), e.Err)
}

// Unwrap returns the underlying connector error.
func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// IsConnectorError returns true if err is or wraps a ConnectorError.
func IsConnectorError(err error) bool {
	var ce *ConnectorError
	return errors.As(err, &ce)
}

// shortKey abbreviates a hex request key for logs and messages.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func isStopped(err error) bool {
	return errors.Is(err, ErrManagerStopped)
}
