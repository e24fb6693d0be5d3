// Package feed assembles the streaming pipeline: a connection.Manager, a
// Session that (re)subscribes on every open, and a router.Router that turns
// inbound payloads into chart history and recorder input.
package feed
