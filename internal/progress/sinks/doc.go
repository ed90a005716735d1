// Package sinks implements progress consumers: Prometheus collectors for job,
// cache, and scrape activity, and a structured log stream.
package sinks
