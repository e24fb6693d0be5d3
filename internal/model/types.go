package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message types sent by the feed.
const (
	TypeSubscriptionConfirmed = "subscription_confirmed"
	ActionSubscribe           = "subscribe"
)

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// Tick is one price update for a security.
type Tick struct {
	Timestamp Timestamp `json:"timestamp"`
	Security  string    `json:"security"`
	LastPrice float64   `json:"last_price"`
	PrevClose float64   `json:"prev_close"`
	ChangePct float64   `json:"change_pct"`

	// Not every source publishes quotes and volume; nil when absent.
	Bid    *float64 `json:"bid"`
	Ask    *float64 `json:"ask"`
	Volume *int64   `json:"volume"`
}

// Spread returns Ask - Bid, or false if either side is missing.
func (t Tick) Spread() (float64, bool) {
	if t.Bid == nil || t.Ask == nil {
		return 0, false
	}
	return *t.Ask - *t.Bid, true
}

// Validate reports whether the tick carries the fields every consumer needs.
func (t Tick) Validate() error {
	if t.Security == "" {
		return fmt.Errorf("tick: security is required")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("tick %s: timestamp is required", t.Security)
	}
	return nil
}

// SubscriptionConfirmed acknowledges a SubscribeRequest.
type SubscriptionConfirmed struct {
	Type       string   `json:"type"`
	Securities []string `json:"securities"`
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// SubscribeRequest asks the feed to stream the given securities. It replaces
// any previous subscription.
type SubscribeRequest struct {
	Action     string   `json:"action"`
	Securities []string `json:"securities"`
}

// NewSubscribeRequest builds a subscribe request.
func NewSubscribeRequest(securities []string) SubscribeRequest {
	return SubscribeRequest{Action: ActionSubscribe, Securities: securities}
}

// -----------------------------------------------------------------------------
// Timestamp
// -----------------------------------------------------------------------------

// Timestamp is a time.Time that decodes ISO-8601 with or without a zone
// offset. Zoneless values are interpreted in the local time zone.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Format(time.RFC3339Nano))
}
