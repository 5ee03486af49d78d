package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pivot"

// Table operations, used as the op label of TableUpdates.
const (
	OpUpdate  = "update"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpClear   = "clear"
)

var (
	tableUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_updates_total",
			Help:      "Total number of applied table mutations by operation",
		},
		[]string{"op"},
	)

	rowsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ingested_total",
			Help:      "Total number of rows written to tables",
		},
	)

	viewRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_recomputes_total",
			Help:      "Total number of view recomputations triggered by table mutations",
		},
	)

	fanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_duration_seconds",
			Help:      "Time taken to apply one table mutation to every dependent view",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Total number of dispatched callbacks by outcome",
		},
		[]string{"outcome"},
	)

	viewsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "views_live",
			Help:      "Number of views that have not been deleted",
		},
	)

	tablesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tables_live",
			Help:      "Number of tables that have not been deleted",
		},
	)
)

func RecordTableUpdate(op string, rows int) {
	tableUpdates.WithLabelValues(op).Inc()
	rowsIngested.Add(float64(rows))
}

// RecordFanout records one mutation applied to n views.
func RecordFanout(n int, took time.Duration) {
	viewRecomputes.Add(float64(n))
	fanoutDuration.Observe(took.Seconds())
}

func RecordCallback(panicked bool) {
	if panicked {
		callbacks.WithLabelValues("panic").Inc()
		return
	}
	callbacks.WithLabelValues("ok").Inc()
}

func ViewCreated()  { viewsLive.Inc() }
func ViewDeleted()  { viewsLive.Dec() }
func TableCreated() { tablesLive.Inc() }
func TableDeleted() { tablesLive.Dec() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
