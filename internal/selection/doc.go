// Package selection implements the reactive filter algebra shared by views:
// clauses, selections and params.
//
// A Clause is one source's contribution (a predicate, a value, or both).
// A Selection collects clauses and resolves them into the predicate a given
// client should apply, according to its Strategy:
//
//	Intersect    AND of every clause
//	Union        OR of every clause
//	Crossfilter  every other source's clauses: OR within a source, AND across
//	Single       the most recent clause only
//
// A Param holds one scalar and notifies when it changes.
//
// Both containers own an ordered listener registry. Notification is
// synchronous, in registration order, and happens outside the container's
// lock. Listeners that publish back into a container form a feedback loop;
// nothing here breaks such loops unless WithMaxNotifyDepth is set.
package selection
