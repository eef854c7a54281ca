package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_RecordOrderBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "test")

	m.RecordOrderBatch("success", 3)
	m.RecordOrderBatch("rejected", 2)
	m.RecordOrderBatch("success", 1)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ordersPlaced.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ordersPlaced.WithLabelValues("rejected")))
	//作成件数は成功分だけ
	assert.Equal(t, float64(4), testutil.ToFloat64(m.orderLines))
}

func TestPrometheus_RecordReservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "test")

	m.RecordReservation("conflict", 5*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.reservationTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reservationDuration))
}
