// Package progress carries job lifecycle events from the scheduler and executor
// to observers. Emitters never block: the Hub buffers events, batches them on a
// background goroutine, and fans each batch out to sinks such as Prometheus
// collectors or the structured log.
package progress
