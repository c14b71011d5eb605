package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 消息指标
	MessagesCreated     prometheus.Counter
	MessagesForwarded   prometheus.Counter
	MessagesReplied     prometheus.Counter
	MessagesRead        prometheus.Counter
	MessagesDeleted     *prometheus.CounterVec // 按视图: admin / sender / recipient
	MessagesPurged      prometheus.Counter
	BroadcastRecipients prometheus.Histogram

	// 审批指标
	ApprovalsTotal *prometheus.CounterVec // 按结果: approved / rejected

	// 通知指标
	NotificationsDispatched prometheus.Counter
	NotificationsFailed     prometheus.Counter

	// 草稿同步指标
	DraftsSynced     prometheus.Counter
	DraftsDuplicated prometheus.Counter

	// WebSocket 指标
	WebSocketConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deptportal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deptportal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MessagesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_messages_created_total",
				Help: "Total number of messages created",
			},
		),

		MessagesForwarded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_messages_forwarded_total",
				Help: "Total number of messages forwarded",
			},
		),

		MessagesReplied: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_messages_replied_total",
				Help: "Total number of reply messages created",
			},
		),

		MessagesRead: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_messages_read_total",
				Help: "Total number of messages marked as read",
			},
		),

		MessagesDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deptportal_messages_deleted_total",
				Help: "Total number of delete operations by view",
			},
			[]string{"view"},
		),

		MessagesPurged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_messages_purged_total",
				Help: "Total number of messages permanently removed",
			},
		),

		BroadcastRecipients: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deptportal_broadcast_recipients",
				Help:    "Number of recipients resolved per broadcast",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		ApprovalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deptportal_approvals_total",
				Help: "Total number of approval decisions by outcome",
			},
			[]string{"outcome"},
		),

		NotificationsDispatched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_notifications_dispatched_total",
				Help: "Total number of notifications dispatched",
			},
		),

		NotificationsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_notifications_failed_total",
				Help: "Total number of notification dispatch failures",
			},
		),

		DraftsSynced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_drafts_synced_total",
				Help: "Total number of client drafts accepted",
			},
		),

		DraftsDuplicated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_drafts_duplicated_total",
				Help: "Total number of duplicate draft submissions deduplicated",
			},
		),

		WebSocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "deptportal_websocket_connections",
				Help: "Current number of WebSocket connections",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deptportal_errors_total",
				Help: "Total number of errors by type and component",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "deptportal_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordError 记录一次错误
func (m *Metrics) RecordError(errType, component string) {
	m.ErrorsTotal.WithLabelValues(errType, component).Inc()
}

// RecordPanic 记录一次 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
