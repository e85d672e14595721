// Package harness runs scenarios against the example stores.
//
// A scenario scripts network replies, drives the registry through select,
// resolve and dispatch steps, and asserts on the resulting trace and final
// state. Scenarios are YAML or CUE files with the same fields:
//
//	name: get_accounts
//	description: "Accounts resolve once and are cached"
//	module: analytics
//	responses:
//	  - method: GET
//	    path: modules/analytics/data/accounts
//	    body: [{id: "1", name: "Main"}]
//	steps:
//	  - resolve: getAccounts
//	    as: accounts
//	    expect: [{id: "1"}]
//	assertions:
//	  - type: trace_count
//	    action: finishResolution
//	    count: 1
//	  - type: expr
//	    expr: 'len(results.accounts) == 1'
//
// Steps default to the module store ("modules/<module>"). Setup steps run
// first and must succeed.
//
// # Assertion Types
//
//   - trace_contains: a transition with the action (and store) occurred
//   - trace_order: the actions' first transitions occur in order
//   - trace_count: the action occurred exactly count times
//   - final_state: the store state (or the value at path) contains expect
//   - expr: an expr-lang boolean over results, state, errors, trace and calls
//
// # Deterministic Testing
//
// Every step waits for the registry to settle, task IDs are sequential and
// transitions carry the registry clock, so the same scenario always yields
// the same trace. RunWithGolden compares that trace against
// testdata/golden/<name>.golden.
package harness
