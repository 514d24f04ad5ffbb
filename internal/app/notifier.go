package app

import "github.com/rewired-gh/pricewatch/internal/logger"

// LogNotifier writes alerts to the log. Used when Telegram is disabled.
type LogNotifier struct{}

// Deliver logs the alert at info level and never fails.
func (LogNotifier) Deliver(title, body string) error {
	logger.Info("ALERT %s: %s", title, body)
	return nil
}
