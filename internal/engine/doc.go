// Package engine coordinates query traffic between views and a backend.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Manager.Run processes every request, completion, cancellation and cache
// invalidation in one goroutine. The cache and the pending-request table
// are only touched there. Connector calls run on their own goroutines and
// report back by enqueuing a completion event.
//
// Request Flow:
//  1. A Selection or Param changes; the Coordinator asks each affected
//     Client for its query under the resolved filter.
//  2. The query is compiled to SQL and submitted with Manager.Request,
//     which stamps it with the client's next generation.
//  3. The loop answers from the Cache, joins an identical pending
//     request, or queues a new one for dispatch in priority order.
//  4. Completions fill the Cache and are fanned out to every requester
//     whose generation is still current.
//
// Generation Fencing:
// A client's results are delivered in generation order. A result for an
// older generation than the latest issued is dropped, never delivered, so
// a slow answer cannot overwrite a newer one. Cancellation works the same
// way: Cancel issues a new generation.
//
// Cache Epochs:
// ClearCache advances an epoch. Connector calls dispatched under an older
// epoch still answer their requesters but neither fill the cache nor
// absorb new requests.
//
// Feedback loops (a client result that publishes into the selection it
// filters by) are not detected here; see selection.WithMaxNotifyDepth.
package engine
