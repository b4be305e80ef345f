package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketmail"

// Metrics 监控指标
//
// 所有指标注册在私有 Registry 上，多次创建互不冲突。
// 方法对 nil 接收者安全，未启用监控时调用方无需判断。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 同步指标
	SyncRunsTotal          *prometheus.CounterVec
	SyncRunDuration        prometheus.Histogram
	SyncMessagesProcessed  prometheus.Counter
	SyncTicketsCreated     prometheus.Counter
	SyncDuplicatesSkipped  prometheus.Counter
	SyncMessageFailures    *prometheus.CounterVec
	SyncLastSuccessSeconds prometheus.Gauge

	// 通知指标
	NotificationsTotal *prometheus.CounterVec

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of finished mailbox sync runs by status",
			},
			[]string{"status"},
		),

		// 一次同步包含网络往返，桶从 100ms 到约 7 分钟
		SyncRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Mailbox sync run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13),
			},
		),

		SyncMessagesProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_messages_processed_total",
				Help:      "Total number of candidate messages handled by sync runs",
			},
		),

		SyncTicketsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_tickets_created_total",
				Help:      "Total number of tickets created from mail",
			},
		),

		SyncDuplicatesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_duplicates_skipped_total",
				Help:      "Total number of messages skipped because a ticket already exists",
			},
		),

		SyncMessageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_message_failures_total",
				Help:      "Total number of per-message failures by stage",
			},
			[]string{"stage"},
		),

		SyncLastSuccessSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_last_success_timestamp_seconds",
				Help:      "Unix time of the last completed sync run",
			},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of completion notifications by result",
			},
			[]string{"result"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordSyncRun 记录一次结束的同步运行
func (m *Metrics) RecordSyncRun(status string, duration time.Duration, processed, created int) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncRunDuration.Observe(duration.Seconds())
	m.SyncMessagesProcessed.Add(float64(processed))
	m.SyncTicketsCreated.Add(float64(created))
	if status == "COMPLETED" {
		m.SyncLastSuccessSeconds.SetToCurrentTime()
	}
}

// RecordDuplicateSkipped 记录一次去重跳过
func (m *Metrics) RecordDuplicateSkipped() {
	if m == nil {
		return
	}
	m.SyncDuplicatesSkipped.Inc()
}

// RecordMessageFailure 记录单封邮件在某阶段失败
func (m *Metrics) RecordMessageFailure(stage string) {
	if m == nil {
		return
	}
	m.SyncMessageFailures.WithLabelValues(stage).Inc()
}

// RecordNotification 记录通知结果（sent、failed、skipped）
func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// Registry 返回私有注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
