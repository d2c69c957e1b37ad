// Package harness runs interaction scenarios against dashboards.
//
// A scenario loads CSV tables into a fresh store, builds a dashboard from
// CUE, registers its views with a coordinator and then replays user
// interactions one step at a time. After every step the harness waits for
// all triggered queries to be delivered, records the deliveries in the
// trace and checks the step's expectations.
//
// # Scenario Format
//
//	name: penguins_crossfilter
//	description: "What this scenario validates"
//	dashboard: ../dashboards/penguins.cue   # or spec: <inline CUE>
//	tables:
//	  - name: penguins
//	    file: ../data/penguins.csv          # or csv: <inline CSV>
//	steps:
//	  - action: select
//	    view: species
//	    value: Gentoo
//	    expect:
//	      - type: rows
//	        view: island
//	        count: 1
//	  - action: set_range
//	    view: mass
//	    range: [3600, 5200]
//	assertions:
//	  - type: contains
//	    view: species
//	    where: { value: Adelie, count: 2 }
//
// Actions: select (menu), set_range (range), brush (histogram), clear
// (any of those three), set_param and refresh.
//
// Assertion types: rows, contains, not_contains, error, deliveries, param
// and clauses.
//
// # Deterministic Traces
//
// Client identities come from testutil.SequentialIDs and the store clock
// is fixed. Deliveries within one step are ordered by view declaration
// order, so a trace can be compared byte for byte with a golden file
// (see RunWithGolden).
package harness
