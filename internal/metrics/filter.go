package metrics

import "thumbshift/internal/keyevent"

// FilterMetrics holds the metrics of the key filter service.
type FilterMetrics struct {
	KeysIn         *Counter
	Passthrough    *Counter
	ResolvedSync   *Counter
	ResolvedFwd    *Counter
	ShiftedKeys    *Counter
	SpecialDoubles *Counter
	Resets         *Counter
	Reloads        *Counter
	TraceDropped   *Gauge
	Pending        *Gauge
	Enabled        *Gauge
	PressGap       *Histogram

	lastPress int64
}

// NewFilterMetrics registers the filter metrics on r.
func NewFilterMetrics(r *Registry) *FilterMetrics {
	return &FilterMetrics{
		KeysIn: r.Counter("keys_in_total",
			"Raw key events fed to the filter", nil),
		Passthrough: r.Counter("keys_passthrough_total",
			"Key events passed to the application without filtering", nil),
		ResolvedSync: r.Counter("keys_resolved_total",
			"Key events resolved by the filter", Labels{"path": "sync"}),
		ResolvedFwd: r.Counter("keys_forwarded_total",
			"Key events resolved out of band and forwarded", nil),
		ShiftedKeys: r.Counter("keys_shifted_total",
			"Resolved characters carrying a thumb-shift", nil),
		SpecialDoubles: r.Counter("special_doubles_total",
			"Resolved special double chords", nil),
		Resets: r.Counter("resets_total",
			"Times the pending queue was discarded", nil),
		Reloads: r.Counter("config_reloads_total",
			"Configuration reloads applied", nil),
		TraceDropped: r.Gauge("trace_dropped_events",
			"Trace events dropped because the recorder fell behind", nil),
		Pending: r.Gauge("pending_keys",
			"Presses currently waiting for disambiguation", nil),
		Enabled: r.Gauge("enabled",
			"1 while the filter is enabled", nil),
		PressGap: r.Histogram("press_gap_microseconds",
			"Time between consecutive key presses", nil, GapBuckets),
	}
}

// ObservePress records the gap since the previous press. It is called from
// the single goroutine that owns the filter.
func (m *FilterMetrics) ObservePress(nowUs int64) {
	if m.lastPress != 0 && nowUs > m.lastPress {
		m.PressGap.Observe(float64(nowUs - m.lastPress))
	}
	m.lastPress = nowUs
}

// ObserveResolved counts one resolved event.
func (m *FilterMetrics) ObserveResolved(k keyevent.KeyEvent, forwarded bool) {
	if forwarded {
		m.ResolvedFwd.Inc()
	} else {
		m.ResolvedSync.Inc()
	}
	switch {
	case k.Modifiers.Has(keyevent.ModLShift) || k.Modifiers.Has(keyevent.ModRShift):
		m.ShiftedKeys.Inc()
	case k.Code == 0 && len(k.Name) > 2 && k.Name[0] == '[':
		m.SpecialDoubles.Inc()
	}
}
