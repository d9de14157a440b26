package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signalbridge/internal/model"
)

// Metrics 进程内指标，nil 时所有方法为空操作
type Metrics struct {
	signals      *prometheus.CounterVec
	brokerCalls  *prometheus.HistogramVec
	flattenTries prometheus.Histogram
	residual     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbridge",
			Name:      "signals_total",
			Help:      "Signals handled, by outcome.",
		}, []string{"outcome"}),
		brokerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalbridge",
			Name:      "broker_call_seconds",
			Help:      "Broker call latency, by operation and result.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		flattenTries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalbridge",
			Name:      "flatten_attempts",
			Help:      "Close attempts used per flatten.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		residual: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalbridge",
			Name:      "residual_exposure_total",
			Help:      "Runs that ended with a position that could not be flattened.",
		}),
	}
	reg.MustRegister(m.signals, m.brokerCalls, m.flattenTries, m.residual)
	return m
}

func (m *Metrics) ObserveBrokerCall(op string, err error, cost time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case model.IsTransport(err):
		result = string(model.KindTransport)
	case err != nil:
		result = string(model.KindRejected)
	}
	m.brokerCalls.WithLabelValues(op, result).Observe(cost.Seconds())
}

func (m *Metrics) ObserveResult(r model.OrchestrationResult) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(string(r.Outcome)).Inc()
	if r.Flatten != nil {
		m.flattenTries.Observe(float64(r.Flatten.AttemptsUsed))
	}
	if r.ResidualExposure {
		m.residual.Inc()
	}
}
