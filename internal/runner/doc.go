// Package runner is the scheduling engine: callers register labeled work
// items with optional depends-on edges, and the runner executes them under a
// concurrency cap while recording structured results per label.
//
// # Lifecycle
//
// A Runner is created empty, accepts tasks only before the run starts, and is
// single use. ExecuteInBackground spawns a maintenance loop that polls on a
// fixed interval: it reaps stopped units, finalizes labels whose dependencies
// failed as Terminated without starting them, and admits ready labels FIFO
// while the in-flight set is below the cap. Results drains the loop (bounded
// by the configured timeout), Abort and fail-fast force-terminate everything
// still unfinished.
//
// # Termination semantics
//
// Only process-backed work items can truly be killed. Goroutine-backed work
// is abandoned instead: its label is finalized as Terminated in the registry
// and whatever the goroutine eventually produces is discarded. The logical
// status exposed to callers and the physical liveness of the goroutine are
// deliberately independent facts.
package runner
