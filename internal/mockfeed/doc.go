// Package mockfeed implements a stand-in market data feed for local runs and
// tests.
//
// The server speaks the same JSON protocol as the real feed: clients send
// {"action":"subscribe","securities":[...]} and receive a
// subscription_confirmed reply followed by one tick per subscribed security
// on every tick interval. Prices follow a bounded random walk from a fixed
// base price.
//
// The subscription is server-wide. The most recent subscribe from any client
// replaces it, and ticks are broadcast to every connected client.
package mockfeed
