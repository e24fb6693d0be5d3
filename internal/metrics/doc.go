// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, opens, closes and errors
//   - Reconnect attempts and exhaustions
//   - Inbound message and malformed payload rates
//   - Outbound queue depth
//   - Router and recorder throughput
package metrics
