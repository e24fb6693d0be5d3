// Package buffer provides the in-memory queues shared by the feed pipeline:
//   - Growable: unbounded FIFO used for manager events and recorder input
//   - Window: fixed-size retention of the most recent items (chart history)
package buffer
