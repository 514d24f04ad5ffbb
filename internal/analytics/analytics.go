// Package analytics derives change and sparkline figures from a newest-first tick window.
//
// All figures are relative to the current buffer window. The basis price is
// whatever tick is currently oldest in the buffer, not a session open, so the
// change drifts as old ticks are evicted.
package analytics

import (
	"math"
	"strings"

	"github.com/rewired-gh/pricewatch/internal/models"
)

// ChangeMetrics summarises the window. BasisPrice and LatestPrice are nil for an empty window.
type ChangeMetrics struct {
	Change           float64
	PercentageChange float64
	BasisPrice       *float64
	LatestPrice      *float64
}

// Point is one normalized sparkline sample.
type Point struct {
	Key        string
	Price      float64
	Normalized float64
}

// Sparkline holds chronological points normalized into [0,1].
type Sparkline struct {
	Points []Point
	Min    *float64
	Max    *float64
}

// ComputeChangeMetrics compares the newest tick against the oldest one in the window.
func ComputeChangeMetrics(ticks []models.Tick) ChangeMetrics {
	if len(ticks) == 0 {
		return ChangeMetrics{}
	}
	latest := ticks[0].Price
	basis := ticks[len(ticks)-1].Price
	change := latest - basis

	var pct float64
	if basis != 0 {
		pct = change / basis * 100
	}
	return ChangeMetrics{
		Change:           change,
		PercentageChange: pct,
		BasisPrice:       &basis,
		LatestPrice:      &latest,
	}
}

// ComputeSparkline needs at least two ticks. When all prices are equal the
// range is floored to 1 and every point normalizes to exactly 0.
func ComputeSparkline(ticks []models.Tick) Sparkline {
	if len(ticks) < 2 {
		return Sparkline{Points: []Point{}}
	}

	lo, hi := ticks[0].Price, ticks[0].Price
	for _, t := range ticks[1:] {
		if t.Price < lo {
			lo = t.Price
		}
		if t.Price > hi {
			hi = t.Price
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	points := make([]Point, 0, len(ticks))
	for i := len(ticks) - 1; i >= 0; i-- {
		t := ticks[i]
		points = append(points, Point{
			Key:        t.Key().String(),
			Price:      t.Price,
			Normalized: (t.Price - lo) / span,
		})
	}
	return Sparkline{Points: points, Min: &lo, Max: &hi}
}

var blocks = []rune("▁▂▃▄▅▆▇█")

// RenderSparkline draws the points with block characters, oldest on the left.
func RenderSparkline(s Sparkline) string {
	var b strings.Builder
	for _, p := range s.Points {
		idx := int(p.Normalized * float64(len(blocks)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}
		b.WriteRune(blocks[idx])
	}
	return b.String()
}

// Dispersion is the running mean and sample standard deviation of window prices.
type Dispersion struct {
	Count  int
	Mean   float64
	StdDev float64
}

// ComputeDispersion folds prices oldest-first with Welford's update.
// StdDev is 0 for fewer than two ticks.
func ComputeDispersion(ticks []models.Tick) Dispersion {
	var (
		n    int
		mean float64
		m2   float64
	)
	for i := len(ticks) - 1; i >= 0; i-- {
		n++
		delta := ticks[i].Price - mean
		mean += delta / float64(n)
		m2 += delta * (ticks[i].Price - mean)
	}
	d := Dispersion{Count: n, Mean: mean}
	if n >= 2 {
		d.StdDev = math.Sqrt(m2 / float64(n-1))
	}
	return d
}
