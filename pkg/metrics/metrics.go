// Package metrics 提供计费引擎的 Prometheus 指标与暴露端点
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/feeengine/pkg/logger"
)

const namespace = "feeengine"

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 已计算费用，按费用类型
	FeesComputedTotal *prometheus.CounterVec
	// 状态迁移，按聚合与目标状态
	TransitionsTotal *prometheus.CounterVec
	// 发票对账差异
	DiscrepanciesTotal prometheus.Counter
	// 收款笔数，按币种
	PaymentsTotal *prometheus.CounterVec
	// 乐观锁冲突
	ConcurrencyConflictsTotal *prometheus.CounterVec

	// outbox 投递成功条数
	OutboxPublishedTotal prometheus.Counter
	// outbox 投递失败次数
	OutboxFailuresTotal prometheus.Counter
}

// New 创建指标实例，注册到独立 registry
func New(serviceName string) *Metrics {
	constLabels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "Total HTTP requests",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		FeesComputedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "fees_computed_total",
			Help:        "Fee events recorded, by fee kind",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "status_transitions_total",
			Help:        "Lifecycle transitions, by aggregate and target status",
			ConstLabels: constLabels,
		}, []string{"aggregate", "status"}),
		DiscrepanciesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invoice_discrepancies_total",
			Help:        "Invoices flagged with a subtotal discrepancy",
			ConstLabels: constLabels,
		}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invoice_payments_total",
			Help:        "Payments recorded against invoices",
			ConstLabels: constLabels,
		}, []string{"currency"}),
		ConcurrencyConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "concurrency_conflicts_total",
			Help:        "Optimistic lock conflicts, by operation",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		OutboxPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outbox_published_total",
			Help:        "Domain events delivered from the outbox",
			ConstLabels: constLabels,
		}),
		OutboxFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outbox_failures_total",
			Help:        "Failed outbox delivery attempts",
			ConstLabels: constLabels,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FeesComputedTotal,
		m.TransitionsTotal,
		m.DiscrepanciesTotal,
		m.PaymentsTotal,
		m.ConcurrencyConflictsTotal,
		m.OutboxPublishedTotal,
		m.OutboxFailuresTotal,
	)
	return m
}

// Registry 返回指标 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FeeComputed 记录一次费用计算
func (m *Metrics) FeeComputed(kind string) {
	m.FeesComputedTotal.WithLabelValues(kind).Inc()
}

// Transition 记录一次状态迁移
func (m *Metrics) Transition(aggregate, status string) {
	m.TransitionsTotal.WithLabelValues(aggregate, status).Inc()
}

// Discrepancy 记录一次对账差异
func (m *Metrics) Discrepancy() {
	m.DiscrepanciesTotal.Inc()
}

// Payment 记录一次收款
func (m *Metrics) Payment(currency string) {
	m.PaymentsTotal.WithLabelValues(currency).Inc()
}

// Conflict 记录一次乐观锁冲突
func (m *Metrics) Conflict(operation string) {
	m.ConcurrencyConflictsTotal.WithLabelValues(operation).Inc()
}

// OutboxPublished 记录投递成功条数
func (m *Metrics) OutboxPublished(n int) {
	m.OutboxPublishedTotal.Add(float64(n))
}

// OutboxFailed 记录一次投递失败
func (m *Metrics) OutboxFailed() {
	m.OutboxFailuresTotal.Inc()
}

// ObserveHTTP 记录 HTTP 请求
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler 返回指标 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer 在独立端口暴露指标，返回的 server 由调用方负责关闭
func (m *Metrics) StartServer(ctx context.Context, port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "metrics server listening", "port", port, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	return srv
}
