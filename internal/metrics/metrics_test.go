package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.Written("post", "created")
	r.Written("post", "created")
	r.Pruned("post", "retention", 3)
	r.Pruned("post", "retention", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.RevisionsWritten.WithLabelValues("post", "created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.RevisionsPruned.WithLabelValues("post", "retention")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Written("post", "created")
	r.StoreFailure("append")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.Rollback("post", "restored")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `revisionable_rollbacks_total{outcome="restored",type="post"} 1`))
}
