package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures pool and connection events.
//
// Hooks run inline with acquire and release, so implementations should be
// cheap to call.
type Collector interface {
	IncAcquire(address, result string)
	IncConnectionOpened(address string)
	IncConnectionClosed(address string)
	SetConnections(address string, inUse, idle int)
	AddBytes(address, direction string, n int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncAcquire(string, string)       {}
func (noopCollector) IncConnectionOpened(string)      {}
func (noopCollector) IncConnectionClosed(string)      {}
func (noopCollector) SetConnections(string, int, int) {}
func (noopCollector) AddBytes(string, string, int)    {}

// PrometheusCollector exposes connector metrics via Prometheus.
type PrometheusCollector struct {
	acquires *prometheus.CounterVec
	opened   *prometheus.CounterVec
	closed   *prometheus.CounterVec
	inUse    *prometheus.GaugeVec
	idle     *prometheus.GaugeVec
	bytes    *prometheus.CounterVec
}

// NewPrometheusCollector registers the connector metrics with reg. Metrics
// already registered by an earlier collector are reused, so several
// connectors can share one registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		p   PrometheusCollector
		err error
	)
	if p.acquires, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bolt_connector_acquire_total",
		Help: "Number of acquire calls per destination and result code.",
	}, []string{"address", "result"})); err != nil {
		return nil, err
	}
	if p.opened, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bolt_connector_connections_opened_total",
		Help: "Number of connections that completed the handshake.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.closed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bolt_connector_connections_closed_total",
		Help: "Number of pooled connections destroyed.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.inUse, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bolt_connector_connections_in_use",
		Help: "Connections currently lent out.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.idle, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bolt_connector_connections_idle",
		Help: "Connections waiting in the pool.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.bytes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bolt_connection_bytes_total",
		Help: "Wire bytes moved per destination and direction.",
	}, []string{"address", "direction"})); err != nil {
		return nil, err
	}
	return &p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncAcquire counts one acquire outcome.
func (p *PrometheusCollector) IncAcquire(address, result string) {
	if p == nil {
		return
	}
	p.acquires.WithLabelValues(address, result).Inc()
}

func (p *PrometheusCollector) IncConnectionOpened(address string) {
	if p == nil {
		return
	}
	p.opened.WithLabelValues(address).Inc()
}

func (p *PrometheusCollector) IncConnectionClosed(address string) {
	if p == nil {
		return
	}
	p.closed.WithLabelValues(address).Inc()
}

// SetConnections updates both pool gauges.
func (p *PrometheusCollector) SetConnections(address string, inUse, idle int) {
	if p == nil {
		return
	}
	p.inUse.WithLabelValues(address).Set(float64(inUse))
	p.idle.WithLabelValues(address).Set(float64(idle))
}

// AddBytes records traffic; direction is "sent" or "received".
func (p *PrometheusCollector) AddBytes(address, direction string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.bytes.WithLabelValues(address, direction).Add(float64(n))
}
