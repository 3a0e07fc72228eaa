package server

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/firmware"
)

var connectivityModes = []connectivity.Mode{
	connectivity.ModeDisconnected,
	connectivity.ModeConnecting,
	connectivity.ModeStation,
	connectivity.ModeFallbackAP,
}

// Metrics is the device's own registry; nothing is registered globally.
type Metrics struct {
	reg      *prometheus.Registry
	mode     *prometheus.GaugeVec
	outcomes *prometheus.CounterVec
	bytes    prometheus.Counter

	mu       sync.Mutex
	progress func() int64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nosfw_connectivity_mode",
			Help: "1 for the current connectivity mode, 0 otherwise.",
		}, []string{"mode"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nosfw_firmware_outcomes_total",
			Help: "Firmware update sessions by terminal status and reason.",
		}, []string{"status", "reason"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nosfw_firmware_bytes_received_total",
			Help: "Firmware image bytes accepted into a slot.",
		}),
	}
	sessionBytes := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nosfw_firmware_session_bytes",
		Help: "Bytes written into the open firmware session, 0 when idle.",
	}, m.sessionBytes)
	m.reg.MustRegister(m.mode, m.outcomes, m.bytes, sessionBytes)
	m.reg.MustRegister(collectors.NewGoCollector())
	return m
}

func (m *Metrics) SetMode(cur connectivity.Mode) {
	for _, mode := range connectivityModes {
		v := 0.0
		if mode == cur {
			v = 1
		}
		m.mode.WithLabelValues(string(mode)).Set(v)
	}
}

// ObserveOutcome is wired as the firmware controller's OnOutcome hook.
func (m *Metrics) ObserveOutcome(o firmware.Outcome) {
	m.outcomes.WithLabelValues(string(o.Status), string(o.Reason)).Inc()
}

// TrackProgress sets the source read by the session bytes gauge on scrape.
func (m *Metrics) TrackProgress(fn func() int64) {
	m.mu.Lock()
	m.progress = fn
	m.mu.Unlock()
}

func (m *Metrics) sessionBytes() float64 {
	m.mu.Lock()
	fn := m.progress
	m.mu.Unlock()
	if fn == nil {
		return 0
	}
	return float64(fn())
}

func (m *Metrics) AddBytes(n int) { m.bytes.Add(float64(n)) }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler refreshes the mode gauge from conn on every scrape.
func (m *Metrics) Handler(conn *connectivity.Manager) http.Handler {
	h := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn != nil {
			m.SetMode(conn.CurrentState().Mode)
		}
		h.ServeHTTP(w, r)
	})
}
