package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有记录方法对 nil 接收者安全，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 会话指标
	SessionsCreated *prometheus.CounterVec
	SessionsExpired prometheus.Counter

	// 同步指标
	PollsTotal      *prometheus.CounterVec
	PollDuration    prometheus.Histogram
	BodyFetches     *prometheus.CounterVec
	StaleResults    *prometheus.CounterVec
	ViewersActive   prometheus.Gauge
	ViewersDegraded prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 在独立的注册表上创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_sessions_created_total",
				Help: "Mailbox session creation attempts by result",
			},
			[]string{"result"},
		),

		SessionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxsync_sessions_expired_total",
				Help: "Total number of mailbox sessions that reached their expiry",
			},
		),

		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_polls_total",
				Help: "Message list polls by result",
			},
			[]string{"result"},
		),

		PollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inboxsync_poll_duration_seconds",
				Help:    "Message list poll duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		BodyFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_body_fetches_total",
				Help: "Message body fetches by result",
			},
			[]string{"result"},
		),

		StaleResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_stale_results_total",
				Help: "Results discarded because their session was superseded",
			},
			[]string{"kind"},
		),

		ViewersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inboxsync_viewers_active",
				Help: "Number of live inbox viewers",
			},
		),

		ViewersDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inboxsync_viewers_degraded",
				Help: "Number of viewers whose polling is degraded",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_errors_total",
				Help: "Total number of errors",
			},
			[]string{"error_type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxsync_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSessionCreate 记录会话创建结果
func (m *Metrics) RecordSessionCreate(result string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(result).Inc()
}

// RecordSessionExpired 记录会话过期
func (m *Metrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

// RecordPoll 记录一次轮询
func (m *Metrics) RecordPoll(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
	m.PollDuration.Observe(duration.Seconds())
}

// RecordBodyFetch 记录一次正文加载
func (m *Metrics) RecordBodyFetch(result string) {
	if m == nil {
		return
	}
	m.BodyFetches.WithLabelValues(result).Inc()
}

// RecordStale 记录被丢弃的过期结果
func (m *Metrics) RecordStale(kind string) {
	if m == nil {
		return
	}
	m.StaleResults.WithLabelValues(kind).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// UpdateViewers 更新在线与降级的查看者数量
func (m *Metrics) UpdateViewers(active, degraded int) {
	if m == nil {
		return
	}
	m.ViewersActive.Set(float64(active))
	m.ViewersDegraded.Set(float64(degraded))
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
