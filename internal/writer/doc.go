// Package writer implements the batch writer that records ticks.
//
// TickWriter drains the router's tick buffer, batches rows and inserts them
// into the ticks table with ON CONFLICT DO NOTHING, so replayed ticks after a
// reconnect are counted as conflicts rather than duplicated.
package writer
