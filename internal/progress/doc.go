// Package progress provides the run event model, the non-blocking hub, and
// the sink and emitter interfaces used to report agent progress. The hub
// batches events on a background goroutine and fans them out to pluggable
// sinks such as structured logs, Prometheus metrics, run history or live
// SSE subscribers.
package progress
