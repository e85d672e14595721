// Package engine implements the cooperative control runtime that drives
// action and resolver bodies through their suspension points.
//
// ARCHITECTURE:
//
// Tasks as explicit step sequences:
// A body is a function returning a Step. A Step is either a completion
// (value or failure) or a yielded Effect paired with a continuation that
// receives the effect's result. There is no language-level suspension: the
// runtime trampolines steps in a loop.
//
// Single-Writer Event Loop:
// The runtime processes all task starts and resumptions in a single
// goroutine (Run). This ensures:
//   - Only one body, reducer or listener executes at any instant
//   - Transitions apply in the order their dispatches reach the loop
//   - Simple reasoning about ordering
//
// Effect Processing Flow:
//  1. Spawn enqueues a start event (FIFO)
//  2. Run dequeues events one at a time
//  3. The task is advanced until it completes or yields an effect the Host
//     cannot satisfy inline
//  4. Inline outcomes (plain actions) resume the task immediately
//  5. Async outcomes (controls, nested dispatch) run off-loop; their result
//     is enqueued as a resume event and delivered on the loop
//
// Many tasks progress concurrently but cooperatively - never two bodies in
// parallel. A failure from an async effect is delivered at the suspension
// point, where the body may catch it.
//
// CANCELLATION:
// Tasks are not cancellable. A task whose caller stopped waiting keeps
// running to completion and its writes remain visible. The only
// cancellation is runtime shutdown: the context handed to async work is the
// context passed to Run.
package engine
