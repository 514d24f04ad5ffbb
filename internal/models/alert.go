package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Direction is the side of the threshold an alert watches.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// ParseDirection accepts "above"/"below" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("invalid direction %q: must be above or below", s)
}

// AlertRule is a user-defined price threshold for a symbol.
// Fired is a latch: once true it is never reset; users delete and recreate instead.
type AlertRule struct {
	ID        string
	Symbol    string
	Direction Direction
	Threshold float64
	Fired     bool
	CreatedAt time.Time
	FiredAt   time.Time
}

// Validate checks alert rule field constraints.
func (a *AlertRule) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return errors.New("alert symbol must not be empty")
	}
	if a.Direction != Above && a.Direction != Below {
		return fmt.Errorf("alert direction must be above or below, got %q", a.Direction)
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) || a.Threshold <= 0 {
		return errors.New("alert threshold must be a positive number")
	}
	return nil
}

// Matches reports whether price crosses the threshold. Both sides are inclusive.
func (a *AlertRule) Matches(price float64) bool {
	switch a.Direction {
	case Above:
		return price >= a.Threshold
	case Below:
		return price <= a.Threshold
	}
	return false
}
