// Package router implements the Message Router component.
//
// The Message Router:
//   - Classifies feed payloads as ticks, subscription confirmations or unknown
//   - Keeps a bounded per-security tick history for charts
//   - Forwards every valid tick to an unbounded buffer for the recorder
//   - Tracks counters for routed, unknown and unparseable payloads
package router
