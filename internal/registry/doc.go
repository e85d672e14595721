// Package registry implements the store catalogue: named stores combining a
// pure reducer over their state with lazily resolved, de-duplicated async
// data fetching.
//
// Architecture:
//   - A Registry is an explicit context object. Stores are registered with
//     Register and addressed by name through Select, Dispatch and Subscribe.
//   - Every action creator and resolver body runs as an engine task on the
//     registry's single runtime loop. Bodies yield Put (apply an action through
//     the reducer), Call (run a named control off-loop) or DispatchTo (start a
//     nested dispatch and wait for it).
//   - The first Select of a selector that has a resolver creates a resolution
//     record keyed by the selector name and the canonical serialization of the
//     arguments, and schedules the resolver. Later reads with equal arguments
//     never schedule it again until the record is invalidated.
//   - Each store keeps framework-owned Meta next to its state: in-flight fetch
//     flags and error records keyed by (name, args).
//
// CRITICAL: reducers, bodies and subscribers all run on the runtime goroutine.
// Select may be called from any goroutine.
package registry
