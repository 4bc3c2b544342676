package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/provider"
)

const (
	// DefaultGoroutineLimit 存活检查允许的最大协程数
	DefaultGoroutineLimit = 10000
	// DefaultPingTimeout 就绪检查中探测邮箱服务的超时时间
	DefaultPingTimeout = 3 * time.Second
)

// Options 健康检查配置
type Options struct {
	GoroutineLimit int
	PingTimeout    time.Duration
	// Degraded 返回当前处于降级状态的查看者数量与总数，可为 nil
	Degraded func() (degraded, total int)
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health   healthcheck.Handler
	provider provider.Pinger
	opts     Options
	logger   *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(p provider.Pinger, opts Options, logger *zap.Logger) *HealthChecker {
	if opts.GoroutineLimit <= 0 {
		opts.GoroutineLimit = DefaultGoroutineLimit
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		provider: p,
		opts:     opts,
		logger:   logger.With(zap.String("component", "health")),
	}
	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(hc.opts.GoroutineLimit))

	if hc.provider != nil {
		hc.health.AddReadinessCheck("provider", healthcheck.Timeout(hc.pingProvider, hc.opts.PingTimeout))
	}

	if hc.opts.Degraded != nil {
		hc.health.AddReadinessCheck("polling", hc.checkPolling)
	}
}

func (hc *HealthChecker) pingProvider() error {
	ctx, cancel := context.WithTimeout(context.Background(), hc.opts.PingTimeout)
	defer cancel()

	if err := hc.provider.Ping(ctx); err != nil {
		hc.logger.Warn("provider readiness check failed", zap.Error(err))
		return err
	}
	return nil
}

// checkPolling 全部查看者都处于降级状态时视为未就绪
func (hc *HealthChecker) checkPolling() error {
	degraded, total := hc.opts.Degraded()
	if total > 0 && degraded == total {
		return fmt.Errorf("all %d viewers are degraded", total)
	}
	return nil
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查端点
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查端点
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
