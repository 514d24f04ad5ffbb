package alerts

import (
	"reflect"
	"testing"

	"github.com/rewired-gh/pricewatch/internal/models"
)

func rule(id string, dir models.Direction, threshold float64) models.AlertRule {
	return models.AlertRule{ID: id, Symbol: "AAPL", Direction: dir, Threshold: threshold}
}

func TestEvaluate(t *testing.T) {
	rules := []models.AlertRule{
		rule("above-100", models.Above, 100),
		rule("above-120", models.Above, 120),
		rule("below-100", models.Below, 100),
		rule("below-90", models.Below, 90),
	}

	tests := []struct {
		name  string
		price float64
		want  []string
	}{
		{"inclusive on both sides", 100, []string{"above-100", "below-100"}},
		{"between", 110, []string{"above-100"}},
		{"high", 125, []string{"above-100", "above-120"}},
		{"low", 80, []string{"below-100", "below-90"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(models.Tick{Symbol: "AAPL", Price: tt.price, Timestamp: 1}, rules)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate(%.0f) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestEvaluate_SkipsFiredAndForeignRules(t *testing.T) {
	fired := rule("fired", models.Above, 100)
	fired.Fired = true
	foreign := rule("foreign", models.Above, 100)
	foreign.Symbol = "TSLA"

	got := Evaluate(models.Tick{Symbol: "AAPL", Price: 150, Timestamp: 1}, []models.AlertRule{fired, foreign})
	if len(got) != 0 {
		t.Errorf("Evaluate fired %v, want none", got)
	}
}

func TestEvaluate_NoRules(t *testing.T) {
	if got := Evaluate(models.Tick{Symbol: "AAPL", Price: 1}, nil); got != nil {
		t.Errorf("Evaluate with no rules = %v", got)
	}
}

func TestSelect(t *testing.T) {
	rules := []models.AlertRule{rule("a", models.Above, 1), rule("b", models.Above, 2), rule("c", models.Above, 3)}
	got := Select(rules, []string{"c", "a"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Select = %+v", got)
	}
}

func TestNotification(t *testing.T) {
	title, body := Notification(rule("x", models.Above, 150), models.Tick{Symbol: "AAPL", Price: 151.234})
	if title != "AAPL price alert" {
		t.Errorf("title = %q", title)
	}
	if body != "AAPL is now above 150.00 (last 151.23)" {
		t.Errorf("body = %q", body)
	}
}
