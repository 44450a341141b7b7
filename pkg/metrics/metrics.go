package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 订单生命周期与 HTTP 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 订单指标
	ordersCreated   *prometheus.CounterVec
	ordersSubmitted *prometheus.CounterVec
	ordersCompleted *prometheus.CounterVec
	ordersFailed    *prometheus.CounterVec

	// 从上一个状态到完成的耗时
	completionDuration *prometheus.HistogramVec
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	return &Collector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		ordersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_created_total",
				Help: "Orders created, by origin and offer type",
			},
			[]string{"origin", "offer_type", "app_id"},
		),
		ordersSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_submitted_total",
				Help: "Orders submitted for payment",
			},
			[]string{"origin", "offer_type"},
		),
		ordersCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_completed_total",
				Help: "Orders completed by the payment webhook",
			},
			[]string{"origin", "offer_type"},
		),
		ordersFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_failed_total",
				Help: "Orders failed, by error code",
			},
			[]string{"origin", "code"},
		),
		completionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_completion_duration_seconds",
				Help:    "Time from the previous status to completion",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"offer_type"},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordOrderCreated 订单创建
func (c *Collector) RecordOrderCreated(origin, offerType, appID string) {
	c.ordersCreated.WithLabelValues(origin, offerType, appID).Inc()
}

// RecordOrderSubmitted 订单提交
func (c *Collector) RecordOrderSubmitted(origin, offerType string) {
	c.ordersSubmitted.WithLabelValues(origin, offerType).Inc()
}

// RecordOrderCompleted 订单完成，elapsed 为距上一次状态变更的时间
func (c *Collector) RecordOrderCompleted(origin, offerType string, elapsed time.Duration) {
	c.ordersCompleted.WithLabelValues(origin, offerType).Inc()
	c.completionDuration.WithLabelValues(offerType).Observe(elapsed.Seconds())
}

// RecordOrderFailed 订单失败
func (c *Collector) RecordOrderFailed(origin, code string) {
	c.ordersFailed.WithLabelValues(origin, code).Inc()
}
