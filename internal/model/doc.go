// Package model defines the feed's wire types shared across marketfeed.
//
// Conventions:
//   - Prices: float64 in the security's quote currency, as sent by the feed
//   - Timestamps: ISO-8601, with or without a zone (zoneless means local time)
//   - Securities: Bloomberg identifiers (e.g. "AAPL US Equity", "USDJPY Curncy")
package model
