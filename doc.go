// Package toolwire implements a resilient tool-invocation protocol for driving
// remote tool endpoints over a correlated request/response connection. A client
// negotiates capabilities with an endpoint, enumerates its tool catalog, and
// executes tools, translating transport-level failures and protocol-level error
// objects into distinct typed outcomes.
//
// Fault isolation is composed externally: see the breaker package for a circuit
// breaker that callers wrap around client operations.
package toolwire
