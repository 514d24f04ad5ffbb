// Package session owns the streaming connection for the active symbol: connect,
// subscribe, fixed-delay reconnect, teardown, and the per-tick pipeline into the
// buffer, the history store and alert evaluation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/pricewatch/internal/alerts"
	"github.com/rewired-gh/pricewatch/internal/buffer"
	"github.com/rewired-gh/pricewatch/internal/finnhub"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/metrics"
	"github.com/rewired-gh/pricewatch/internal/models"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultHistoryCap     = 60
)

// ErrMissingToken is returned by Start when no access token is configured.
var ErrMissingToken = errors.New("no access token configured (set finnhub.token)")

// Dialer opens a transport connection authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, token string) (finnhub.Conn, error)
}

// HistoryStore persists accepted ticks with a per-symbol cap.
type HistoryStore interface {
	InsertTick(tick models.Tick) (int64, error)
	PruneHistory(symbol string, cap int) error
	RecentHistory(symbol string, limit int) ([]models.HistoryRecord, error)
}

// AlertStore holds threshold rules.
type AlertStore interface {
	Alerts(symbol string) ([]models.AlertRule, error)
	UnfiredAlerts(symbol string) ([]models.AlertRule, error)
	MarkFired(ids []string) ([]string, error)
}

// Notifier delivers a fired alert. Failures are logged, never retried here.
type Notifier interface {
	Deliver(title, body string) error
}

// Config holds session behavior.
type Config struct {
	Token          string
	ReconnectDelay time.Duration
	HistoryCap     int
}

// Deps are the collaborators a Manager drives. Notifier and Metrics may be nil.
type Deps struct {
	Dialer   Dialer
	Buffer   *buffer.Buffer
	History  HistoryStore
	Alerts   AlertStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Status is a point-in-time view of the session.
type Status struct {
	State   models.SessionState
	Symbol  string
	Message string
	Err     error
}

// View is what a symbol switch loads for display alongside the live buffer.
type View struct {
	Symbol  string
	History []models.HistoryRecord
	Alerts  []models.AlertRule
}

// Manager runs one session at a time.
//
// Every connection, read loop, timer and side-effect goroutine captures the
// generation that was current when it started. Teardown bumps the generation,
// so completions from a superseded session find themselves stale and drop out
// before touching shared state.
type Manager struct {
	cfg      Config
	dialer   Dialer
	buf      *buffer.Buffer
	history  HistoryStore
	alerts   AlertStore
	notifier Notifier
	metrics  *metrics.Metrics

	mu         sync.Mutex
	state      models.SessionState
	symbol     string
	generation uint64
	manual     bool
	ctx        context.Context
	cancel     context.CancelFunc
	conn       finnhub.Conn
	timer      *time.Timer
	message    string
	lastErr    error

	inflight sync.WaitGroup
}

// New creates an idle Manager.
func New(cfg Config, deps Deps) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if deps.Buffer == nil {
		deps.Buffer = buffer.New(buffer.DefaultCapacity)
	}
	return &Manager{
		cfg:      cfg,
		dialer:   deps.Dialer,
		buf:      deps.Buffer,
		history:  deps.History,
		alerts:   deps.Alerts,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		state:    models.Idle,
	}
}

// Start begins streaming symbol, tearing down any session for another symbol.
// Starting the symbol that is already connecting, open or reconnecting is a no-op.
func (m *Manager) Start(symbol string) error {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return errors.New("symbol must not be empty")
	}

	m.mu.Lock()
	stale, err := m.startLocked(symbol)
	m.mu.Unlock()
	stale.close()
	return err
}

func (m *Manager) startLocked(symbol string) (detached, error) {
	if symbol == m.symbol && m.isLiveLocked() {
		return detached{}, nil
	}

	stale := m.teardownLocked()
	m.buf.Rebind(symbol)
	m.symbol = symbol

	if m.cfg.Token == "" {
		m.setStateLocked(models.Failed, "configuration error: "+ErrMissingToken.Error(), ErrMissingToken)
		logger.Error("Cannot start session for %s: %v", symbol, ErrMissingToken)
		return stale, ErrMissingToken
	}

	m.manual = false
	m.ctx, m.cancel = context.WithCancel(context.Background())
	gen := m.generation
	m.setStateLocked(models.Connecting, "connecting to "+symbol, nil)
	go m.connect(m.ctx, gen, symbol)
	return stale, nil
}

// Teardown closes the session for good: no reconnect is scheduled afterwards.
func (m *Manager) Teardown() {
	m.mu.Lock()
	stale := m.teardownLocked()
	if m.state != models.Idle {
		m.setStateLocked(models.Closed, "session closed", nil)
	}
	m.mu.Unlock()
	stale.close()
}

// Shutdown tears down and waits for in-flight persistence and alert work.
func (m *Manager) Shutdown() {
	m.Teardown()
	m.inflight.Wait()
}

// Wait blocks until every side effect started so far has completed.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// SwitchSymbol tears down the current session, rebinds the buffer, loads the
// cached history and alert rules for symbol, then starts streaming it.
// Load failures are logged and leave the corresponding view field empty.
func (m *Manager) SwitchSymbol(symbol string) (View, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return View{}, errors.New("symbol must not be empty")
	}

	m.Teardown()

	m.mu.Lock()
	m.buf.Rebind(symbol)
	m.symbol = symbol
	m.mu.Unlock()

	view := View{Symbol: symbol}
	if records, err := m.history.RecentHistory(symbol, m.cfg.HistoryCap); err != nil {
		logger.Warn("Failed to load cached history for %s: %v", symbol, err)
	} else {
		view.History = records
	}
	if rules, err := m.alerts.Alerts(symbol); err != nil {
		logger.Warn("Failed to load alerts for %s: %v", symbol, err)
	} else {
		view.Alerts = rules
	}

	return view, m.Start(symbol)
}

// State returns the current lifecycle state.
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the state with the latest status message.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Symbol: m.symbol, Message: m.message, Err: m.lastErr}
}

// Snapshot returns the buffered ticks, newest first.
func (m *Manager) Snapshot() []models.Tick {
	return m.buf.Snapshot()
}

// Symbol returns the bound symbol.
func (m *Manager) Symbol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol
}

func (m *Manager) isLiveLocked() bool {
	switch m.state {
	case models.Connecting, models.Open, models.Reconnecting:
		return true
	}
	return false
}

// detached is a transport released by teardown. Its unsubscribe and close
// frames go over the network, so callers send them after unlocking.
type detached struct {
	conn   finnhub.Conn
	symbol string
}

func (d detached) close() {
	if d.conn == nil {
		return
	}
	_ = d.conn.WriteJSON(finnhub.UnsubscribeMessage(d.symbol))
	if err := d.conn.Close(); err != nil {
		logger.Debug("Closing transport for %s: %v", d.symbol, err)
	}
}

// teardownLocked sets the manual flag before anything else so a close
// handler racing with it cannot schedule a reconnect. The returned
// transport is already unreachable from the session.
func (m *Manager) teardownLocked() detached {
	m.manual = true
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	stale := detached{conn: m.conn, symbol: m.symbol}
	m.conn = nil
	return stale
}

func (m *Manager) setStateLocked(s models.SessionState, message string, err error) {
	if s != m.state {
		logger.Debug("Session %s: %s -> %s", m.symbol, m.state, s)
	}
	m.state = s
	m.message = message
	m.lastErr = err
	m.metrics.SetState(s)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// connect dials, subscribes and hands the connection to a read loop.
// There is no handshake timeout; only teardown aborts a pending dial.
func (m *Manager) connect(ctx context.Context, gen uint64, symbol string) {
	conn, err := m.dialer.Dial(ctx, m.cfg.Token)

	m.mu.Lock()
	if gen != m.generation || m.manual {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		logger.Warn("Connect for %s failed: %v", symbol, err)
		m.metrics.WSEvent("error")
		m.handleClose(gen, err)
		return
	}
	m.conn = conn
	m.mu.Unlock()
	m.metrics.WSEvent("connect")

	if err := conn.WriteJSON(finnhub.SubscribeMessage(symbol)); err != nil {
		// The read loop sees the broken transport and drives the reconnect.
		logger.Warn("Subscribe for %s failed: %v", symbol, err)
		m.metrics.WSEvent("error")
		m.setCurrentState(gen, models.Open, fmt.Sprintf("transport error: %v", err), err)
	} else {
		logger.Info("Subscribed to %s", symbol)
		m.setCurrentState(gen, models.Open, "streaming "+symbol, nil)
	}

	go m.readLoop(gen, symbol, conn)
}

func (m *Manager) setCurrentState(gen uint64, s models.SessionState, message string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.setStateLocked(s, message, err)
	}
}

// setTransient surfaces a message without changing state.
func (m *Manager) setTransient(gen uint64, message string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.message = message
		m.lastErr = err
	}
}

func (m *Manager) readLoop(gen uint64, symbol string, conn finnhub.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleMessage(gen, symbol, data)
	}
}

// handleClose schedules the single pending reconnect. A close that arrives
// while a reconnect is already pending, after teardown, or from a superseded
// session does nothing.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.manual {
		return
	}
	if m.timer != nil {
		return
	}
	if m.conn != nil {
		go m.conn.Close() //nolint:errcheck
		m.conn = nil
	}

	delay := m.cfg.ReconnectDelay
	logger.Warn("Stream for %s closed (%v); reconnecting in %s", m.symbol, cause, delay)
	m.metrics.WSEvent("close")
	m.setStateLocked(models.Reconnecting, fmt.Sprintf("connection lost, reconnecting in %s", delay), cause)
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.manual {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx, symbol := m.ctx, m.symbol
	m.setStateLocked(models.Connecting, "reconnecting to "+symbol, nil)
	m.mu.Unlock()

	m.metrics.WSEvent("reconnect")
	m.connect(ctx, gen, symbol)
}

// handleMessage decodes one frame and feeds each valid tick through the pipeline.
// Nothing escapes it: bad frames and elements are logged and dropped.
func (m *Manager) handleMessage(gen uint64, symbol string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while handling frame for %s: %v", symbol, r)
		}
	}()

	msg, err := finnhub.Decode(data)
	if err != nil {
		switch {
		case errors.Is(err, finnhub.ErrNoData):
			logger.Debug("Ignoring %q frame without data", msg.Type)
		case errors.Is(err, finnhub.ErrServer):
			logger.Warn("Feed reported an error for %s: %v", symbol, err)
			m.setTransient(gen, err.Error(), err)
		default:
			logger.Warn("Dropping frame for %s: %v", symbol, err)
			m.metrics.Dropped(metrics.DropMalformed)
		}
		return
	}

	for _, el := range msg.Elements {
		if !el.OK() {
			logger.Warn("Dropping trade element: %v", el.Err)
			m.metrics.Dropped(metrics.DropDecode)
			continue
		}
		tick := el.Tick
		m.metrics.TickReceived(tick.Symbol)
		if tick.Symbol != symbol {
			logger.Warn("Dropping %s tick on %s session", tick.Symbol, symbol)
			m.metrics.Dropped(metrics.DropSymbol)
			continue
		}
		m.accept(gen, tick)
	}
}

// accept buffers the tick and, when it is new, starts its side effects
// without waiting for them.
func (m *Manager) accept(gen uint64, tick models.Tick) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.metrics.Dropped(metrics.DropStale)
		return
	}
	accepted := m.buf.Accept(tick)
	if accepted {
		m.inflight.Add(1)
	}
	m.mu.Unlock()

	if !accepted {
		m.metrics.Dropped(metrics.DropDupe)
		return
	}
	m.metrics.TickAccepted(tick.Symbol)

	go func() {
		defer m.inflight.Done()
		m.process(gen, tick)
	}()
}

// process persists the tick and evaluates alerts for its symbol.
func (m *Manager) process(gen uint64, tick models.Tick) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while processing %s tick: %v", tick.Symbol, r)
		}
	}()

	if !m.current(gen) {
		return
	}
	m.persist(tick)
	m.evaluate(gen, tick)
}

// persist inserts then prunes. A failed prune leaves the symbol over its cap,
// which the next successful prune corrects.
func (m *Manager) persist(tick models.Tick) {
	start := time.Now()
	defer func() { m.metrics.ObservePersist(time.Since(start)) }()

	if _, err := m.history.InsertTick(tick); err != nil {
		logger.Error("Failed to persist %s tick: %v", tick.Symbol, err)
		m.metrics.PersistError()
		return
	}
	if err := m.history.PruneHistory(tick.Symbol, m.cfg.HistoryCap); err != nil {
		logger.Warn("Failed to prune %s history: %v", tick.Symbol, err)
		m.metrics.PersistError()
	}
}

// evaluate latches matching rules before delivering anything; delivery
// failures do not un-fire a rule.
func (m *Manager) evaluate(gen uint64, tick models.Tick) {
	rules, err := m.alerts.UnfiredAlerts(tick.Symbol)
	if err != nil {
		logger.Error("Failed to load alerts for %s: %v", tick.Symbol, err)
		m.metrics.PersistError()
		return
	}
	ids := alerts.Evaluate(tick, rules)
	if len(ids) == 0 {
		return
	}
	if !m.current(gen) {
		return
	}

	flipped, err := m.alerts.MarkFired(ids)
	if err != nil {
		logger.Error("Failed to mark %d alerts fired for %s: %v", len(ids), tick.Symbol, err)
		m.metrics.PersistError()
		return
	}
	m.metrics.AlertsFired(tick.Symbol, len(flipped))

	for _, rule := range alerts.Select(rules, flipped) {
		title, body := alerts.Notification(rule, tick)
		logger.Info("Alert %s fired: %s", rule.ID, body)
		if m.notifier == nil {
			continue
		}
		if err := m.notifier.Deliver(title, body); err != nil {
			logger.Warn("Failed to deliver alert %s: %v", rule.ID, err)
			m.metrics.NotifyError()
		}
	}
}
