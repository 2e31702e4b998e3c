// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedDevices prometheus.Gauge
	LivingPlayers    prometheus.Gauge
	Round            prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	Sends            *prometheus.CounterVec
	Evictions        *prometheus.CounterVec
	BarrierTimeouts  *prometheus.CounterVec
	AckLatency       prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_devices",
			Help:      "Number of registered device sessions",
		}),
		LivingPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "living_players",
			Help:      "Players not yet eliminated",
		}),
		Round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round",
			Help:      "Index of the current round",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound device messages by kind",
		}, []string{"kind"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound commands by kind and result",
		}, []string{"kind", "result"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Sessions removed by reason",
		}, []string{"reason"}),
		BarrierTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrier_timeouts_total",
			Help:      "Barriers released by timeout instead of a reply",
		}, []string{"barrier"}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ack_latency_seconds",
			Help:      "Time from writing a command to receiving its ack",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.ConnectedDevices,
		m.LivingPlayers,
		m.Round,
		m.MessagesReceived,
		m.Sends,
		m.Evictions,
		m.BarrierTimeouts,
		m.AckLatency,
	)

	return m
}

// Monitor owns a private registry so several instances (one per test) never
// collide. All methods are safe on a nil *Monitor.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
	once      sync.Once
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
}

// Handler serves the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	m.once.Do(func() {
		// expvar is process global; publish once.
		if expvar.Get("uptime_seconds") == nil {
			expvar.Publish("uptime_seconds", expvar.Func(func() interface{} {
				return time.Since(m.startTime).Seconds()
			}))
		}
	})
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Metrics exposes the underlying collectors.
func (m *Monitor) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

func (m *Monitor) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Monitor) SetConnectedDevices(n int) {
	if m == nil {
		return
	}
	m.metrics.ConnectedDevices.Set(float64(n))
}

func (m *Monitor) SetLivingPlayers(n int) {
	if m == nil {
		return
	}
	m.metrics.LivingPlayers.Set(float64(n))
}

func (m *Monitor) SetRound(n int) {
	if m == nil {
		return
	}
	m.metrics.Round.Set(float64(n))
}

func (m *Monitor) IncMessagesReceived(kind string) {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Monitor) IncSends(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.metrics.Sends.WithLabelValues(kind, result).Inc()
}

func (m *Monitor) IncEvictions(reason string) {
	if m == nil {
		return
	}
	m.metrics.Evictions.WithLabelValues(reason).Inc()
}

func (m *Monitor) IncBarrierTimeouts(barrier string) {
	if m == nil {
		return
	}
	m.metrics.BarrierTimeouts.WithLabelValues(barrier).Inc()
}

func (m *Monitor) ObserveAckLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.metrics.AckLatency.Observe(d.Seconds())
}
