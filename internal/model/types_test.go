package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTick_UnmarshalMockFeed(t *testing.T) {
	data := `{"timestamp":"2024-01-15T10:30:45.123456","security":"AAPL US Equity","last_price":186.12,"prev_close":183.65,"change_pct":1.345,"bid":185.93,"ask":186.31,"volume":12345678}`

	var tick Tick
	if err := json.Unmarshal([]byte(data), &tick); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if tick.Security != "AAPL US Equity" {
		t.Errorf("Security = %q, want AAPL US Equity", tick.Security)
	}
	if tick.LastPrice != 186.12 {
		t.Errorf("LastPrice = %v, want 186.12", tick.LastPrice)
	}
	want := time.Date(2024, 1, 15, 10, 30, 45, 123456000, time.Local)
	if !tick.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", tick.Timestamp, want)
	}
	if tick.Volume == nil || *tick.Volume != 12345678 {
		t.Errorf("Volume = %v, want 12345678", tick.Volume)
	}

	spread, ok := tick.Spread()
	if !ok {
		t.Fatal("Spread() should be available when bid and ask are set")
	}
	if spread < 0.37 || spread > 0.39 {
		t.Errorf("Spread() = %v, want ~0.38", spread)
	}
	if err := tick.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestTick_NullQuotes(t *testing.T) {
	data := `{"timestamp":"2024-01-15T01:30:45+00:00","security":"NKY Index","last_price":33500,"prev_close":33165,"change_pct":1.01,"bid":null,"ask":null,"volume":null}`

	var tick Tick
	if err := json.Unmarshal([]byte(data), &tick); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if tick.Bid != nil || tick.Ask != nil || tick.Volume != nil {
		t.Errorf("expected nil quotes, got bid=%v ask=%v volume=%v", tick.Bid, tick.Ask, tick.Volume)
	}
	if _, ok := tick.Spread(); ok {
		t.Error("Spread() should be unavailable without quotes")
	}
	if want := time.Date(2024, 1, 15, 1, 30, 45, 0, time.UTC); !tick.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", tick.Timestamp, want)
	}
}

func TestTick_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tick    Tick
		wantErr bool
	}{
		{"valid", Tick{Security: "SPX Index", Timestamp: Timestamp{time.Now()}}, false},
		{"missing security", Tick{Timestamp: Timestamp{time.Now()}}, true},
		{"missing timestamp", Tick{Security: "SPX Index"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tick.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-01-15T10:30:45Z", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), false},
		{"2024-01-15T19:30:45+09:00", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), false},
		{"2024-01-15T10:30:45", time.Date(2024, 1, 15, 10, 30, 45, 0, time.Local), false},
		{"2024-01-15 10:30:45.5", time.Date(2024, 1, 15, 10, 30, 45, 500000000, time.Local), false},
		{"15/01/2024", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`null`), &ts); err != nil {
		t.Fatalf("unmarshal null failed: %v", err)
	}
	if !ts.IsZero() {
		t.Error("null should decode to zero timestamp")
	}

	if err := json.Unmarshal([]byte(`12345`), &ts); err == nil {
		t.Error("expected error for numeric timestamp")
	}

	in := Timestamp{time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"2024-01-15T10:30:45Z"` {
		t.Errorf("marshal = %s", data)
	}

	data, _ = json.Marshal(Timestamp{})
	if string(data) != "null" {
		t.Errorf("zero timestamp marshal = %s, want null", data)
	}
}

func TestSubscribeRequest_Wire(t *testing.T) {
	req := NewSubscribeRequest([]string{"AAPL US Equity", "USDJPY Curncy"})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"action":"subscribe","securities":["AAPL US Equity","USDJPY Curncy"]}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}

func TestSubscriptionConfirmed_Unmarshal(t *testing.T) {
	data := `{"type":"subscription_confirmed","securities":["SPX Index"]}`

	var msg SubscriptionConfirmed
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Type != TypeSubscriptionConfirmed {
		t.Errorf("Type = %q", msg.Type)
	}
	if len(msg.Securities) != 1 || msg.Securities[0] != "SPX Index" {
		t.Errorf("Securities = %v", msg.Securities)
	}
}
