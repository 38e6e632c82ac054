package types

// MetricsSink is the small surface every core component reports into.
// It exists so the core can stay decoupled from any particular metrics
// backend; definition.Metrics is the prometheus-backed implementation,
// and a nil MetricsSink is always safe to pass (every core component
// treats it as optional and falls back to a no-op).
type MetricsSink interface {
	IncBroadcast(object string)
	IncHistoryRequest(object string)
	IncSelfEchoDropped(object string)
	IncEventApplied(object string)
	ObserveOffset(seconds float64)
}

// noopMetrics is used whenever a component is constructed with a nil sink.
type noopMetrics struct{}

func (noopMetrics) IncBroadcast(string)        {}
func (noopMetrics) IncHistoryRequest(string)   {}
func (noopMetrics) IncSelfEchoDropped(string)  {}
func (noopMetrics) IncEventApplied(string)     {}
func (noopMetrics) ObserveOffset(float64)      {}

// OrNoop returns m, or a no-op sink if m is nil. Core components should
// call this once at construction so call sites never need a nil check.
func OrNoop(m MetricsSink) MetricsSink {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
