package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lag_ticks_total", Help: "Count of price ticks ingested per feed"},
		[]string{"symbol", "feed"},
	)
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lag_ticks_rejected_total", Help: "Ticks dropped for invalid values, unknown symbols, or ordering violations"},
		[]string{"symbol", "feed"},
	)
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lag_analyses_total", Help: "Completed optimal-lag analyses"},
		[]string{"symbol", "significant"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lag_signals_total", Help: "Directional signals registered"},
		[]string{"symbol", "direction"},
	)
	SignalsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "lag_signals_dropped_total", Help: "Pending signals evicted by registry capacity"},
	)
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lag_outcomes_total", Help: "Signal outcomes recorded, labeled by whether the prediction was correct"},
		[]string{"correct"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, TicksRejected, AnalysesTotal, SignalsTotal, SignalsDropped, OutcomesTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
