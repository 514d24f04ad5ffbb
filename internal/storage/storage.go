// Package storage provides SQLite-backed persistence for tick history and alert rules.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/pricewatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/pricewatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pricewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			price     REAL NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks(symbol, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			direction  TEXT NOT NULL,
			threshold  REAL NOT NULL,
			fired      INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			fired_at   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol, fired)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertTick appends a history row and returns its sequence id.
func (s *Storage) InsertTick(tick models.Tick) (int64, error) {
	if err := tick.Validate(); err != nil {
		return 0, fmt.Errorf("invalid tick: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO ticks (symbol, price, timestamp) VALUES (?,?,?)`,
		tick.Symbol, tick.Price, tick.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tick: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// PruneHistory keeps the cap most recent rows by timestamp for symbol.
func (s *Storage) PruneHistory(symbol string, cap int) error {
	_, err := s.db.Exec(`
		DELETE FROM ticks WHERE symbol = ? AND id NOT IN (
			SELECT id FROM ticks WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, symbol, symbol, cap)
	if err != nil {
		return fmt.Errorf("failed to prune history for %s: %w", symbol, err)
	}
	return nil
}

// RecentHistory returns up to limit records for symbol, newest first.
func (s *Storage) RecentHistory(symbol string, limit int) ([]models.HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+tickCols+` FROM ticks WHERE symbol = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []models.HistoryRecord{}
	for rows.Next() {
		var r models.HistoryRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Price, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// HistoryBySymbol returns every stored record grouped by symbol, each group newest first.
func (s *Storage) HistoryBySymbol() (map[string][]models.HistoryRecord, error) {
	rows, err := s.db.Query(`SELECT ` + tickCols + ` FROM ticks ORDER BY symbol, timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]models.HistoryRecord)
	for rows.Next() {
		var r models.HistoryRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Price, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		grouped[r.Symbol] = append(grouped[r.Symbol], r)
	}
	return grouped, rows.Err()
}

// AddAlert stores a new rule. Rules are never updated in place.
func (s *Storage) AddAlert(rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, symbol, direction, threshold, fired, created_at, fired_at)
		VALUES (?,?,?,?,?,?,?)`,
		rule.ID, rule.Symbol, string(rule.Direction), rule.Threshold,
		boolToInt(rule.Fired), rule.CreatedAt.UnixNano(), timeToNano(rule.FiredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// PruneAlerts keeps the cap newest rules for symbol.
func (s *Storage) PruneAlerts(symbol string, cap int) error {
	_, err := s.db.Exec(`
		DELETE FROM alerts WHERE symbol = ? AND id NOT IN (
			SELECT id FROM alerts WHERE symbol = ? ORDER BY created_at DESC LIMIT ?
		)`, symbol, symbol, cap)
	if err != nil {
		return fmt.Errorf("failed to prune alerts for %s: %w", symbol, err)
	}
	return nil
}

// UnfiredAlerts returns rules for symbol that have not fired yet.
func (s *Storage) UnfiredAlerts(symbol string) ([]models.AlertRule, error) {
	return s.queryAlerts(`SELECT `+alertCols+` FROM alerts WHERE symbol = ? AND fired = 0 ORDER BY created_at`, symbol)
}

// Alerts returns every rule for symbol, fired or not.
func (s *Storage) Alerts(symbol string) ([]models.AlertRule, error) {
	return s.queryAlerts(`SELECT `+alertCols+` FROM alerts WHERE symbol = ? ORDER BY created_at`, symbol)
}

// MarkFired latches the given rules and returns the IDs that were still unfired.
// A rule already fired by a concurrent evaluation is not returned again.
func (s *Storage) MarkFired(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	var flipped []string
	for _, id := range ids {
		res, err := tx.Exec(`UPDATE alerts SET fired = 1, fired_at = ? WHERE id = ? AND fired = 0`, now, id)
		if err != nil {
			return nil, fmt.Errorf("failed to mark alert %s fired: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			flipped = append(flipped, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fired alerts: %w", err)
	}
	return flipped, nil
}

// DeleteAlert removes a rule. IDs may be given as a unique prefix.
func (s *Storage) DeleteAlert(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("alert not found: %q", id)
	}
	res, err := s.db.Exec(`DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var matches []string
	// Literal, case-sensitive prefix match.
	rows, err := s.db.Query(`SELECT id FROM alerts WHERE substr(id, 1, length(?)) = ?`, id, id)
	if err != nil {
		return fmt.Errorf("failed to look up alert: %w", err)
	}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan alert id: %w", err)
		}
		matches = append(matches, m)
	}
	rows.Close() // release the single connection before deleting
	if err := rows.Err(); err != nil {
		return err
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("alert not found: %s", id)
	case 1:
		if _, err := s.db.Exec(`DELETE FROM alerts WHERE id = ?`, matches[0]); err != nil {
			return fmt.Errorf("failed to delete alert: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("alert id prefix %s is ambiguous (%d matches)", id, len(matches))
	}
}

const (
	tickCols  = `id, symbol, price, timestamp`
	alertCols = `id, symbol, direction, threshold, fired, created_at, fired_at`
)

func (s *Storage) queryAlerts(query string, args ...any) ([]models.AlertRule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	rules := []models.AlertRule{}
	for rows.Next() {
		r, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanAlert(scan func(...any) error) (*models.AlertRule, error) {
	var a models.AlertRule
	var direction string
	var fired int
	var createdAtNano, firedAtNano int64
	if err := scan(&a.ID, &a.Symbol, &direction, &a.Threshold, &fired, &createdAtNano, &firedAtNano); err != nil {
		return nil, err
	}
	a.Direction = models.Direction(direction)
	a.Fired = fired != 0
	a.CreatedAt = time.Unix(0, createdAtNano)
	if firedAtNano != 0 {
		a.FiredAt = time.Unix(0, firedAtNano)
	}
	return &a, nil
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
