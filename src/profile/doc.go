// Package profile collects page-fault statistics.
//
// Every resolved fault is traced with the page it hit, its direction, the
// size of the response that served it, the time it took, and the call site
// that triggered it. Counters live in the page state so tracing does not
// allocate. A report lists the most faulted pages along with aggregate
// figures, and a reset starts a new measurement window.
package profile
