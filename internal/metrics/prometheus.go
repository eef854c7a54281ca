package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Prometheus struct {
	ordersPlaced        *prometheus.CounterVec
	orderLines          prometheus.Counter
	reservationTotal    *prometheus.CounterVec
	reservationDuration *prometheus.HistogramVec
	httpDuration        *prometheus.HistogramVec
}

func NewPrometheusMetrics(reg prometheus.Registerer, serviceName string) *Prometheus {
	m := &Prometheus{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "orderapi_order_batches_total",
			Help:        "Order batches by result.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"result"}),
		orderLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "orderapi_orders_created_total",
			Help:        "Order records created.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		reservationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "orderapi_stock_reservation_total",
			Help:        "Stock reservation transactions by result.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"result"}),
		reservationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "orderapi_stock_reservation_duration_seconds",
			Help:        "Stock reservation latency including lock waits.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "orderapi_http_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"method", "path", "status_code"}),
	}

	reg.MustRegister(
		m.ordersPlaced,
		m.orderLines,
		m.reservationTotal,
		m.reservationDuration,
		m.httpDuration,
	)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// result: success / rejected / conflict / error
func (p *Prometheus) RecordOrderBatch(result string, lines int) {
	p.ordersPlaced.WithLabelValues(result).Inc()
	if result == "success" {
		p.orderLines.Add(float64(lines))
	}
}

func (p *Prometheus) RecordReservation(result string, duration time.Duration) {
	p.reservationTotal.WithLabelValues(result).Inc()
	p.reservationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveHTTPRequestDuration(method, path, code string, duration float64) {
	p.httpDuration.WithLabelValues(method, path, code).Observe(duration)
}
