// Package metrics exposes Prometheus instruments for the tick stream.
// All methods are safe on a nil *Metrics so collaborators can run without it.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

// Drop reasons used as label values.
const (
	DropDecode    = "decode"
	DropSymbol    = "symbol_mismatch"
	DropStale     = "stale_session"
	DropDupe      = "duplicate"
	DropMalformed = "malformed_message"
)

type Metrics struct {
	ticksReceived   *prometheus.CounterVec
	ticksAccepted   *prometheus.CounterVec
	ticksDropped    *prometheus.CounterVec
	wsEvents        *prometheus.CounterVec
	alertsFired     *prometheus.CounterVec
	persistErrors   prometheus.Counter
	notifyErrors    prometheus.Counter
	sessionState    prometheus.Gauge
	persistDuration prometheus.Histogram
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pricewatch_ticks_received_total", Help: "Tick elements received from the stream"}, []string{"symbol"}),
		ticksAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pricewatch_ticks_accepted_total", Help: "Ticks accepted into the buffer"}, []string{"symbol"}),
		ticksDropped:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pricewatch_ticks_dropped_total", Help: "Tick elements or messages dropped"}, []string{"reason"}),
		wsEvents:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pricewatch_ws_events_total", Help: "Websocket lifecycle events"}, []string{"event"}),
		alertsFired:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pricewatch_alerts_fired_total", Help: "Alert rules latched as fired"}, []string{"symbol"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "pricewatch_persist_errors_total", Help: "History and alert store failures"}),
		notifyErrors:  prometheus.NewCounter(prometheus.CounterOpts{Name: "pricewatch_notify_errors_total", Help: "Notification delivery failures"}),
		sessionState:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "pricewatch_session_state", Help: "Current session state (0=idle 1=connecting 2=open 3=reconnecting 4=closed 5=failed)"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_persist_seconds",
			Help:    "Insert plus prune latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
	reg.MustRegister(
		m.ticksReceived, m.ticksAccepted, m.ticksDropped, m.wsEvents,
		m.alertsFired, m.persistErrors, m.notifyErrors, m.sessionState, m.persistDuration,
	)
	return m
}

func (m *Metrics) TickReceived(symbol string) {
	if m != nil {
		m.ticksReceived.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) TickAccepted(symbol string) {
	if m != nil {
		m.ticksAccepted.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.ticksDropped.WithLabelValues(reason).Inc()
	}
}

// WSEvent counts lifecycle events: connect, close, error, reconnect.
func (m *Metrics) WSEvent(event string) {
	if m != nil {
		m.wsEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) AlertsFired(symbol string, n int) {
	if m != nil && n > 0 {
		m.alertsFired.WithLabelValues(symbol).Add(float64(n))
	}
}

func (m *Metrics) PersistError() {
	if m != nil {
		m.persistErrors.Inc()
	}
}

func (m *Metrics) NotifyError() {
	if m != nil {
		m.notifyErrors.Inc()
	}
}

func (m *Metrics) SetState(s models.SessionState) {
	if m != nil {
		m.sessionState.Set(float64(s))
	}
}

func (m *Metrics) ObservePersist(d time.Duration) {
	if m != nil {
		m.persistDuration.Observe(d.Seconds())
	}
}

// Serve exposes the gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("Metrics listening on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
}
