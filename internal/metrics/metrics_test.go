package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/tobsdb/pivot/internal/metrics"
	"gotest.tools/assert"
)

func TestMetricsEndpoint(t *testing.T) {
	RecordTableUpdate(OpUpdate, 3)
	RecordFanout(2, time.Millisecond)
	RecordCallback(false)
	ViewCreated()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, rec.Code, http.StatusOK)

	body := rec.Body.String()
	for _, name := range []string{
		`pivot_table_updates_total{op="update"}`,
		"pivot_rows_ingested_total",
		"pivot_view_recomputes_total",
		`pivot_callbacks_total{outcome="ok"}`,
		"pivot_views_live",
	} {
		assert.Assert(t, strings.Contains(body, name), "missing %s", name)
	}
}
