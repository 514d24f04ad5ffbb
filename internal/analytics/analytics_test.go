package analytics

import (
	"math"
	"testing"

	"github.com/rewired-gh/pricewatch/internal/models"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// window builds a newest-first slice from chronological prices.
func window(prices ...float64) []models.Tick {
	out := make([]models.Tick, len(prices))
	for i, p := range prices {
		out[len(prices)-1-i] = models.Tick{Symbol: "AAPL", Price: p, Timestamp: int64(i+1) * 1000}
	}
	return out
}

func TestComputeChangeMetrics_Empty(t *testing.T) {
	m := ComputeChangeMetrics(nil)
	if m.Change != 0 || m.PercentageChange != 0 || m.BasisPrice != nil || m.LatestPrice != nil {
		t.Errorf("empty metrics = %+v", m)
	}
}

func TestComputeChangeMetrics(t *testing.T) {
	ticks := []models.Tick{
		{Symbol: "AAPL", Price: 110, Timestamp: 2000},
		{Symbol: "AAPL", Price: 100, Timestamp: 1000},
	}
	m := ComputeChangeMetrics(ticks)
	if !near(m.Change, 10) {
		t.Errorf("change = %f, want 10", m.Change)
	}
	if !near(m.PercentageChange, 10) {
		t.Errorf("percentage = %f, want 10", m.PercentageChange)
	}
	if m.BasisPrice == nil || *m.BasisPrice != 100 {
		t.Errorf("basis = %v, want 100", m.BasisPrice)
	}
	if m.LatestPrice == nil || *m.LatestPrice != 110 {
		t.Errorf("latest = %v, want 110", m.LatestPrice)
	}
}

func TestComputeChangeMetrics_ZeroBasis(t *testing.T) {
	m := ComputeChangeMetrics(window(0, 5))
	if m.Change != 5 {
		t.Errorf("change = %f, want 5", m.Change)
	}
	if m.PercentageChange != 0 {
		t.Errorf("percentage with zero basis = %f, want 0", m.PercentageChange)
	}
}

func TestComputeChangeMetrics_SingleTick(t *testing.T) {
	m := ComputeChangeMetrics(window(42))
	if m.Change != 0 || m.PercentageChange != 0 {
		t.Errorf("single tick metrics = %+v", m)
	}
	if *m.BasisPrice != 42 || *m.LatestPrice != 42 {
		t.Errorf("basis/latest = %v/%v, want 42/42", *m.BasisPrice, *m.LatestPrice)
	}
}

func TestComputeSparkline_TooFewPoints(t *testing.T) {
	for _, ticks := range [][]models.Tick{nil, window(100)} {
		s := ComputeSparkline(ticks)
		if len(s.Points) != 0 || s.Min != nil || s.Max != nil {
			t.Errorf("sparkline for %d ticks = %+v", len(ticks), s)
		}
	}
}

func TestComputeSparkline(t *testing.T) {
	s := ComputeSparkline(window(100, 110, 105))
	if len(s.Points) != 3 {
		t.Fatalf("got %d points, want 3", len(s.Points))
	}
	if *s.Min != 100 || *s.Max != 110 {
		t.Errorf("min/max = %v/%v, want 100/110", *s.Min, *s.Max)
	}
	want := []struct {
		price, norm float64
	}{{100, 0}, {110, 1}, {105, 0.5}}
	for i, w := range want {
		p := s.Points[i]
		if p.Price != w.price || !near(p.Normalized, w.norm) {
			t.Errorf("point %d = %+v, want price %.0f norm %.2f", i, p, w.price, w.norm)
		}
	}
	if s.Points[0].Key != "AAPL-1000-100" {
		t.Errorf("first key = %q", s.Points[0].Key)
	}
}

func TestComputeSparkline_MinMaxIndependentOfOrder(t *testing.T) {
	s := ComputeSparkline(window(110, 105, 100))
	if *s.Min != 100 || *s.Max != 110 {
		t.Errorf("min/max = %v/%v, want 100/110", *s.Min, *s.Max)
	}
}

func TestComputeSparkline_FlatPricesNormalizeToZero(t *testing.T) {
	s := ComputeSparkline(window(50, 50, 50))
	for i, p := range s.Points {
		if p.Normalized != 0 {
			t.Errorf("point %d normalized = %f, want exactly 0", i, p.Normalized)
		}
	}
}

func TestRenderSparkline(t *testing.T) {
	got := RenderSparkline(ComputeSparkline(window(100, 110, 105)))
	if got != "▁█▄" {
		t.Errorf("RenderSparkline = %q, want %q", got, "▁█▄")
	}
	if RenderSparkline(Sparkline{}) != "" {
		t.Error("empty sparkline should render as empty string")
	}
}

func TestComputeDispersion(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		mean   float64
		stddev float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{42}, 42, 0},
		{"flat", []float64{7, 7, 7}, 7, 0},
		{"spread", []float64{100, 110, 105}, 105, 5},
		{"textbook", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, math.Sqrt(32.0 / 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ComputeDispersion(window(tt.prices...))
			if d.Count != len(tt.prices) {
				t.Errorf("count = %d, want %d", d.Count, len(tt.prices))
			}
			if !near(d.Mean, tt.mean) || !near(d.StdDev, tt.stddev) {
				t.Errorf("mean/stddev = %v/%v, want %v/%v", d.Mean, d.StdDev, tt.mean, tt.stddev)
			}
		})
	}
}
