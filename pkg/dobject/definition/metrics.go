package definition

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// Metrics backs types.MetricsSink with a small set of prometheus
// collectors, reported into by TimeHandler, UnorderedHandler and
// WatchModel.
type Metrics struct {
	broadcasts       *prometheus.CounterVec
	historyRequests  *prometheus.CounterVec
	selfEchoDropped  *prometheus.CounterVec
	eventsApplied    *prometheus.CounterVec
	offset           prometheus.Gauge
}

// NewMetrics registers its collectors on reg and returns the sink.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dobject",
			Name:      "broadcasts_total",
			Help:      "Number of Send signals emitted per replicated object.",
		}, []string{"object"}),
		historyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dobject",
			Name:      "history_requests_total",
			Help:      "Number of AskHistory requests served per replicated object.",
		}, []string{"object"}),
		selfEchoDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dobject",
			Name:      "self_echo_dropped_total",
			Help:      "Number of broadcasts dropped because they echoed back to their sender.",
		}, []string{"object"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dobject",
			Name:      "events_applied_total",
			Help:      "Number of WatchModel events folded into state, locally or from the network.",
		}, []string{"object"}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dobject",
			Name:      "time_offset_seconds",
			Help:      "Last learned TimeHandler clock offset, in seconds.",
		}),
	}
	reg.MustRegister(m.broadcasts, m.historyRequests, m.selfEchoDropped, m.eventsApplied, m.offset)
	return m
}

func (m *Metrics) IncBroadcast(object string)      { m.broadcasts.WithLabelValues(object).Inc() }
func (m *Metrics) IncHistoryRequest(object string) { m.historyRequests.WithLabelValues(object).Inc() }
func (m *Metrics) IncSelfEchoDropped(object string) {
	m.selfEchoDropped.WithLabelValues(object).Inc()
}
func (m *Metrics) IncEventApplied(object string) { m.eventsApplied.WithLabelValues(object).Inc() }
func (m *Metrics) ObserveOffset(seconds float64) { m.offset.Set(seconds) }

var _ types.MetricsSink = (*Metrics)(nil)
