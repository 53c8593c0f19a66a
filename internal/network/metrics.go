package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счётчики сетевой подсистемы. Нулевой *Metrics допустим: методы
// ничего не делают.
type Metrics struct {
	SnapshotsSent  prometheus.Counter
	SnapshotBytes  prometheus.Counter
	GeometryBodies prometheus.Counter
	Malformed      prometheus.Counter
	Throttled      prometheus.Counter
	InterpDelay    prometheus.Gauge
	BufferDepth    prometheus.Gauge
	Peers          prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg, если он задан
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "snapshots_sent_total",
			Help:      "Снимков отправлено пирам.",
		}),
		SnapshotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "snapshot_bytes_total",
			Help:      "Байт снимков после сжатия.",
		}),
		GeometryBodies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "geometry_bodies_total",
			Help:      "Тел, отправленных с геометрией (первый показ и повторы).",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "malformed_dropped_total",
			Help:      "Отброшенные нераспознанные сообщения.",
		}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "commands_throttled_total",
			Help:      "Команды, отброшенные ограничителем частоты.",
		}),
		InterpDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "interpolation_delay_seconds",
			Help:      "Текущая задержка интерполяции клиента.",
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "snapshot_buffer_depth",
			Help:      "Снимков в буфере клиента.",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Subsystem: "network",
			Name:      "peers",
			Help:      "Подключённых пиров.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SnapshotsSent, m.SnapshotBytes, m.GeometryBodies,
			m.Malformed, m.Throttled, m.InterpDelay, m.BufferDepth, m.Peers)
	}
	return m
}

func (m *Metrics) snapshot(bytes, geometry int) {
	if m == nil {
		return
	}
	m.SnapshotsSent.Inc()
	m.SnapshotBytes.Add(float64(bytes))
	m.GeometryBodies.Add(float64(geometry))
}

func (m *Metrics) malformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) throttled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

func (m *Metrics) peers(delta float64) {
	if m != nil {
		m.Peers.Add(delta)
	}
}

func (m *Metrics) client(delaySeconds float64, depth int) {
	if m == nil {
		return
	}
	m.InterpDelay.Set(delaySeconds)
	m.BufferDepth.Set(float64(depth))
}
