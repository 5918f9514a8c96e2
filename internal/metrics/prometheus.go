package metrics

import (
	"fmt"
	"net/http"
	"sort"
)

// PrometheusHandler exposes the registry in Prometheus' text exposition
// format as a single counter with an `event` label, which keeps the
// in-process registry trivial while still being scrapeable.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		events := make([]string, 0, len(snap))
		for event := range snap {
			events = append(events, event)
		}
		sort.Strings(events)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP signaling_relay_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE signaling_relay_events_total counter")
		for _, event := range events {
			_, _ = fmt.Fprintf(w, "signaling_relay_events_total{event=%q} %d\n",
				event, snap[event])
		}
	})
}
