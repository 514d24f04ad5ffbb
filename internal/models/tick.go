// Package models defines the core domain entities: ticks, history records, alert rules and session states.
package models

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Tick is a single trade/price observation for a symbol.
// Identity is the (Symbol, Timestamp, Price) triple; Volume is informational.
type Tick struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"` // epoch milliseconds
	Volume    float64 `json:"v,omitempty"`
}

// TickKey is the identity key used for deduplication.
type TickKey struct {
	Symbol    string
	Timestamp int64
	Price     float64
}

// Key returns the identity key of the tick.
func (t Tick) Key() TickKey {
	return TickKey{Symbol: t.Symbol, Timestamp: t.Timestamp, Price: t.Price}
}

// String renders the key in a stable form, e.g. "AAPL-1700000000000-189.5".
func (k TickKey) String() string {
	return k.Symbol + "-" + strconv.FormatInt(k.Timestamp, 10) + "-" + strconv.FormatFloat(k.Price, 'f', -1, 64)
}

// Validate checks tick field constraints.
// Non-positive prices and timestamps are tolerated; only non-finite prices are rejected.
func (t Tick) Validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return errors.New("tick symbol must not be empty")
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return errors.New("tick price must be finite")
	}
	return nil
}

// HistoryRecord is the persisted form of a Tick.
type HistoryRecord struct {
	ID        int64
	Symbol    string
	Price     float64
	Timestamp int64
}

// Tick converts the record back into a Tick.
func (r HistoryRecord) Tick() Tick {
	return Tick{Symbol: r.Symbol, Price: r.Price, Timestamp: r.Timestamp}
}

// NormalizeSymbol upper-cases and trims a user supplied symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
