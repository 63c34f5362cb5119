/*
Package broker executes allowed tool invocations against their targets.

The Broker guarantees at most one recorded side effect per idempotency key:
results are looked up in a ports.ResultCache before execution, concurrent
callers with the same key are collapsed, and confirmed outcomes are stored
before returning.

Transient failures are retried with exponential backoff and jitter up to a
per-target budget. Each target has its own circuit breaker and outbound rate
limit. Work runs detached from the caller's context, so a caller that gives up
gets a "deadline" result while the in-flight call still completes and records
its outcome.
*/
package broker
