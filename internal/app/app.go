// Package app turns bot commands into session and store operations.
package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/pricewatch/internal/analytics"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/session"
)

const (
	DefaultMaxAlertsPerSymbol = 20
	historyLines              = 10
)

// Store is the persistence the command layer needs.
type Store interface {
	AddAlert(rule *models.AlertRule) error
	PruneAlerts(symbol string, cap int) error
	Alerts(symbol string) ([]models.AlertRule, error)
	DeleteAlert(id string) error
	RecentHistory(symbol string, limit int) ([]models.HistoryRecord, error)
}

// Session is the live stream the commands drive. *session.Manager satisfies it.
type Session interface {
	SwitchSymbol(symbol string) (session.View, error)
	Status() session.Status
	Snapshot() []models.Tick
	Symbol() string
}

// App answers bot commands.
type App struct {
	store     Store
	session   Session
	maxAlerts int
	now       func() time.Time
}

// New creates an App. maxAlerts caps stored rules per symbol.
func New(store Store, sess Session, maxAlerts int) *App {
	if maxAlerts <= 0 {
		maxAlerts = DefaultMaxAlertsPerSymbol
	}
	return &App{store: store, session: sess, maxAlerts: maxAlerts, now: time.Now}
}

// HandleCommand runs one command and returns the reply text.
func (a *App) HandleCommand(command, args string) string {
	args = strings.TrimSpace(args)
	logger.Debug("Command /%s %s", command, args)

	switch strings.ToLower(command) {
	case "start", "help":
		return helpText
	case "ping":
		return "Pong"
	case "watch":
		return a.watch(args)
	case "alert":
		return a.addAlert(args)
	case "alerts":
		return a.listAlerts()
	case "delalert":
		return a.deleteAlert(args)
	case "price":
		return a.price()
	case "history":
		return a.history()
	case "status":
		return a.status()
	default:
		return fmt.Sprintf("Unknown command /%s. Try /help.", command)
	}
}

const helpText = `Commands:
/watch SYMBOL - stream a symbol
/alert above|below PRICE - alert on the watched symbol
/alerts - list alerts
/delalert ID - delete an alert
/price - latest price and change
/history - recent stored ticks
/status - connection status`

func (a *App) watch(args string) string {
	symbol := models.NormalizeSymbol(args)
	if symbol == "" {
		return "Usage: /watch SYMBOL"
	}
	view, err := a.session.SwitchSymbol(symbol)
	if err != nil {
		return fmt.Sprintf("Watching %s, but the stream cannot start: %v", symbol, err)
	}
	return fmt.Sprintf("Watching %s (%d cached ticks, %d alerts)", view.Symbol, len(view.History), len(view.Alerts))
}

func (a *App) addAlert(args string) string {
	const usage = "Usage: /alert above|below PRICE"
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return usage
	}
	dir, err := models.ParseDirection(fields[0])
	if err != nil {
		return usage
	}
	threshold, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return usage
	}
	symbol := a.session.Symbol()
	if symbol == "" {
		return "No symbol is being watched. Use /watch SYMBOL first."
	}

	rule := &models.AlertRule{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Direction: dir,
		Threshold: threshold,
		CreatedAt: a.now(),
	}
	if err := a.store.AddAlert(rule); err != nil {
		return fmt.Sprintf("Could not add alert: %v", err)
	}
	if err := a.store.PruneAlerts(symbol, a.maxAlerts); err != nil {
		logger.Warn("Failed to prune alerts for %s: %v", symbol, err)
	}
	logger.Info("Added alert %s: %s %s %.2f", rule.ID, symbol, dir, threshold)
	return fmt.Sprintf("Alert %s set: %s %s %.2f", shortID(rule.ID), symbol, dir, threshold)
}

func (a *App) listAlerts() string {
	symbol := a.session.Symbol()
	if symbol == "" {
		return "No symbol is being watched."
	}
	rules, err := a.store.Alerts(symbol)
	if err != nil {
		return fmt.Sprintf("Could not load alerts: %v", err)
	}
	if len(rules) == 0 {
		return fmt.Sprintf("No alerts for %s", symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Alerts for %s:", symbol)
	for _, r := range rules {
		mark := "waiting"
		if r.Fired {
			mark = "fired"
		}
		fmt.Fprintf(&b, "\n%s %s %.2f [%s]", shortID(r.ID), r.Direction, r.Threshold, mark)
	}
	return b.String()
}

func (a *App) deleteAlert(args string) string {
	if args == "" {
		return "Usage: /delalert ID"
	}
	if err := a.store.DeleteAlert(args); err != nil {
		return fmt.Sprintf("Could not delete alert: %v", err)
	}
	return fmt.Sprintf("Deleted alert %s", args)
}

func (a *App) price() string {
	symbol := a.session.Symbol()
	ticks := a.session.Snapshot()
	if len(ticks) == 0 {
		if symbol == "" {
			return "No symbol is being watched."
		}
		return fmt.Sprintf("No ticks for %s yet", symbol)
	}

	m := analytics.ComputeChangeMetrics(ticks)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.2f\n", symbol, *m.LatestPrice)
	fmt.Fprintf(&b, "Change %+.2f (%+.2f%%) over %d ticks", m.Change, m.PercentageChange, len(ticks))
	if d := analytics.ComputeDispersion(ticks); d.Count >= 2 {
		fmt.Fprintf(&b, "\nMean %.2f, stddev %.2f", d.Mean, d.StdDev)
	}
	if line := analytics.RenderSparkline(analytics.ComputeSparkline(ticks)); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

func (a *App) history() string {
	symbol := a.session.Symbol()
	if symbol == "" {
		return "No symbol is being watched."
	}
	records, err := a.store.RecentHistory(symbol, historyLines)
	if err != nil {
		return fmt.Sprintf("Could not load history: %v", err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No stored history for %s", symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent %s ticks:", symbol)
	for _, r := range records {
		at := time.UnixMilli(r.Timestamp).UTC().Format("15:04:05")
		fmt.Fprintf(&b, "\n%s %.2f", at, r.Price)
	}
	return b.String()
}

func (a *App) status() string {
	st := a.session.Status()
	symbol := st.Symbol
	if symbol == "" {
		symbol = "-"
	}
	text := fmt.Sprintf("%s: %s", symbol, st.State)
	if st.Message != "" {
		text += " (" + st.Message + ")"
	}
	if st.Err != nil {
		text += "\nLast error: " + st.Err.Error()
	}
	return text
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
