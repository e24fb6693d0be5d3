// Package connection implements the feed Connection Manager.
//
// The Manager:
//   - Owns at most one live connection to the feed endpoint
//   - Queues outbound messages while not open and flushes them in order on open
//   - Reconnects after a fixed interval, giving up after MaxReconnectAttempts
//   - Delivers inbound JSON and lifecycle events to Handlers in order
//
// Transport is pluggable through Dialer. WebSocketDialer is the production
// transport, built on gorilla/websocket with ping/pong liveness checks.
package connection
