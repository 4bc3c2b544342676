// Package app 负责按配置装配邮箱服务与收件箱引擎，供各个命令复用。
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/inbox"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/pool"
	"tempmail/inboxsync/internal/provider"
	"tempmail/inboxsync/internal/provider/mailtm"
	"tempmail/inboxsync/internal/provider/memory"
	"tempmail/inboxsync/internal/viewer"
)

// Backend 已装配的上游邮箱服务
type Backend struct {
	Provider provider.Provider
	Pinger   provider.Pinger

	memory *memory.Provider
	feed   *memory.Feed
}

// NewBackend 按配置创建上游邮箱服务
func NewBackend(cfg config.ProviderConfig, log *zap.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendMailTM, "":
		client := mailtm.New(mailtm.Options{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			Logger:    log,
		})
		log.Info("using mail.tm provider",
			zap.String("base_url", cfg.BaseURL),
			zap.Float64("rate_limit", cfg.RateLimit),
		)
		return &Backend{Provider: client, Pinger: client}, nil

	case config.BackendMemory:
		mem := memory.New(memory.Options{
			Domains: cfg.MemoryDomains,
			TTL:     cfg.MemoryTTL,
			Logger:  log,
		})
		b := &Backend{Provider: mem, Pinger: mem, memory: mem}
		if cfg.FeedInterval > 0 {
			b.feed = memory.NewFeed(mem, cfg.FeedInterval)
		}
		log.Info("using in-memory provider (development mode)",
			zap.Strings("domains", cfg.MemoryDomains),
			zap.Duration("feed_interval", cfg.FeedInterval),
		)
		return b, nil

	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}
}

// Memory 返回内存后端，其他后端返回 nil
func (b *Backend) Memory() *memory.Provider {
	return b.memory
}

// Run 运行后端的后台任务（内存后端的模拟来信），阻塞直到 ctx 取消
func (b *Backend) Run(ctx context.Context) {
	if b.feed == nil {
		<-ctx.Done()
		return
	}
	b.feed.Run(ctx)
}

// EngineFactory 返回按统一配置创建收件箱引擎的工厂
func EngineFactory(p provider.Provider, cfg config.InboxConfig, workers *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger) viewer.Factory {
	return func() *inbox.Engine {
		return inbox.New(p, cfg,
			inbox.WithPool(workers),
			inbox.WithMetrics(metrics),
			inbox.WithLogger(log),
		)
	}
}
