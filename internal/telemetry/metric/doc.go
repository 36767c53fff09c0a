// Package metric provides the Prometheus registry of the server.
//
//   - prometheus.go: registry, HTTP request metrics and the /metrics handler
//   - collector.go: collector reporting store state at scrape time
//
// Storage packages register their own collectors through Registerer().
package metric
