// Package metrics provides the Prometheus instrumentation the connection
// and session layers emit (ambient stack, not part of spec.md's protocol
// semantics). Registration is nil-safe: a caller that does not want
// metrics simply never calls Register.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every counter/gauge the engine updates. A nil
// *Collectors is safe to use: every method is then a no-op. Collectors
// built by New count whether or not Register has been called; Register
// only exposes them to a Registerer.
type Collectors struct {
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	EndpointsActive   prometheus.Gauge
	SessionsActive    prometheus.Gauge
	DecodeErrorsTotal prometheus.Counter
}

// New builds an unregistered Collectors.
func New() *Collectors {
	return &Collectors{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amqp10", Name: "frames_sent_total",
			Help: "Total number of AMQP/SASL frames sent.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amqp10", Name: "frames_received_total",
			Help: "Total number of AMQP/SASL frames received.",
		}),
		EndpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amqp10", Name: "endpoints_active",
			Help: "Number of connection endpoints currently allocated.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amqp10", Name: "sessions_active",
			Help: "Number of sessions currently mapped.",
		}),
		DecodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amqp10", Name: "decode_errors_total",
			Help: "Total number of frame decode failures.",
		}),
	}
}

// Register registers all collectors against reg. A nil reg (or a nil
// receiver) is a no-op, so callers that don't care about metrics can
// skip calling this entirely.
func (c *Collectors) Register(reg prometheus.Registerer) {
	if c == nil || reg == nil {
		return
	}
	reg.MustRegister(
		c.FramesSent,
		c.FramesReceived,
		c.EndpointsActive,
		c.SessionsActive,
		c.DecodeErrorsTotal,
	)
}

// IncFramesSent records one outgoing frame. Safe on a nil receiver.
func (c *Collectors) IncFramesSent() {
	if c != nil {
		c.FramesSent.Inc()
	}
}

// IncFramesReceived records one incoming frame. Safe on a nil receiver.
func (c *Collectors) IncFramesReceived() {
	if c != nil {
		c.FramesReceived.Inc()
	}
}

// IncDecodeErrors records one frame decode failure. Safe on a nil receiver.
func (c *Collectors) IncDecodeErrors() {
	if c != nil {
		c.DecodeErrorsTotal.Inc()
	}
}

// SetEndpointsActive sets the current endpoint count. Safe on a nil receiver.
func (c *Collectors) SetEndpointsActive(n int) {
	if c != nil {
		c.EndpointsActive.Set(float64(n))
	}
}

// SetSessionsActive sets the current mapped-session count. Safe on a nil receiver.
func (c *Collectors) SetSessionsActive(n int) {
	if c != nil {
		c.SessionsActive.Set(float64(n))
	}
}
