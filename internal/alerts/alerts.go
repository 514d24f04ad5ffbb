// Package alerts decides which threshold rules a tick fires.
// It never touches storage or notifiers; callers latch and deliver.
package alerts

import (
	"fmt"

	"github.com/rewired-gh/pricewatch/internal/models"
)

// Evaluate returns the IDs of every rule the tick fires, in rule order.
// Rules already fired or bound to another symbol are skipped.
func Evaluate(tick models.Tick, rules []models.AlertRule) []string {
	var fired []string
	for i := range rules {
		r := &rules[i]
		if r.Fired || r.Symbol != tick.Symbol {
			continue
		}
		if r.Matches(tick.Price) {
			fired = append(fired, r.ID)
		}
	}
	return fired
}

// Select returns the rules whose IDs appear in ids, preserving rule order.
func Select(rules []models.AlertRule, ids []string) []models.AlertRule {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.AlertRule
	for _, r := range rules {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Notification builds the title and body delivered for a fired rule.
func Notification(rule models.AlertRule, tick models.Tick) (title, body string) {
	title = fmt.Sprintf("%s price alert", rule.Symbol)
	body = fmt.Sprintf("%s is now %s %.2f (last %.2f)", rule.Symbol, rule.Direction, rule.Threshold, tick.Price)
	return title, body
}
