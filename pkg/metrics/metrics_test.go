package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"signalbridge/internal/model"
)

func TestMetrics_ObserveResult(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveResult(model.OrchestrationResult{Outcome: model.OutcomeAccepted, Flatten: &model.FlattenResult{AttemptsUsed: 1}})
	m.ObserveResult(model.OrchestrationResult{Outcome: model.OutcomeLiquidationIncomplete, ResidualExposure: true})
	m.ObserveResult(model.OrchestrationResult{Outcome: model.OutcomeAccepted})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signals.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.residual))
}

func TestMetrics_BrokerCallResultLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBrokerCall("placeorder", nil, time.Millisecond)
	m.ObserveBrokerCall("placeorder", model.NewTransportError("placeorder", errors.New("timeout")), time.Second)
	m.ObserveBrokerCall("placeorder", model.NewRejectedError("placeorder", 400, "bad"), time.Millisecond)

	assert.Equal(t, 3, testutil.CollectAndCount(m.brokerCalls))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBrokerCall("x", nil, 0)
	m.ObserveResult(model.OrchestrationResult{})
}
