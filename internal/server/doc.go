// Package server exposes an engine.Connector to remote clients over HTTP.
//
// The REST endpoint answers one connector.Request per POST. The WebSocket
// endpoint accepts a stream of requests on one connection, executes them
// concurrently (bounded by WithMaxInFlight) and writes each response as it
// completes, tagged with the request's id. Both transports use the wire
// types in internal/connector, which the rest and socket connectors speak.
//
// Prometheus metrics for the server and, when the same process runs one,
// the query manager are served on /metrics.
package server
