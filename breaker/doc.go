// Package breaker implements the circuit breaker pattern for guarding calls
// to unreliable dependencies.
//
// A Breaker starts closed and admits every call. Consecutive failures are
// counted; reaching the configured threshold opens the circuit and subsequent
// calls fail fast with an OpenError instead of touching the dependency. After
// the open duration elapses the breaker lets a probe call through in the
// half-open state: a successful probe closes the circuit again, a failed one
// reopens it for a fresh open duration.
//
// Callers that are cancelled mid-flight say nothing about the dependency's
// health, so a context.Canceled outcome leaves the breaker's counters and
// state untouched.
//
// The package knows nothing about what it guards. Any operation expressible
// as func(context.Context) error can be wrapped with Do, and the generic Run
// helper carries a result value through.
package breaker
