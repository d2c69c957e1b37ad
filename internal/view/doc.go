// Package view provides headless clients: views that query through an
// engine.Coordinator and keep their latest result instead of drawing it.
//
// Four kinds exist:
//
//	menu      - distinct values of a column with counts; Select publishes a point clause
//	range     - column extent from field statistics; SetRange publishes an interval
//	histogram - binned counts of a numeric column; Brush publishes an interval
//	table     - filtered rows, with a fixed or param-driven limit
//
// Each view is its own clause source, so a view that filters by the
// crossfilter selection it publishes into is not filtered by itself.
//
// Build turns an ir.DashboardSpec into live selections, params and views;
// Dashboard.Register hands the views to a coordinator.
package view
