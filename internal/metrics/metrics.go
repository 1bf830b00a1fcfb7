package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the payment flow collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	notifications   *prometheus.CounterVec
	confirmDuration *prometheus.HistogramVec
	redirects       *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbpayments_notifications_total",
			Help: "Payment notifications by channel, terminal state and reason.",
		}, []string{"channel", "state", "reason"}),
		confirmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bbpayments_confirm_duration_seconds",
			Help:    "Latency of the outbound confirmation call.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"protocol", "outcome"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbpayments_redirects_total",
			Help: "Checkout redirects built, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.notifications, m.confirmDuration, m.redirects)
	return m
}

func (m *Metrics) Notification(channel, state, reason string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, state, reason).Inc()
}

func (m *Metrics) ConfirmDuration(protocol, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmDuration.WithLabelValues(protocol, outcome).Observe(d.Seconds())
}

func (m *Metrics) Redirect(outcome string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(outcome).Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
