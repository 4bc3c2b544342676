// Package viewer 维护每个查看者（浏览器标签页）独占的收件箱引擎。
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/inbox"
	"tempmail/inboxsync/internal/monitoring"
)

var (
	// ErrLimitReached 在线查看者数量已达上限
	ErrLimitReached = errors.New("viewer limit reached")
	// ErrNotFound 查看者不存在或已被回收
	ErrNotFound = errors.New("viewer not found")
	// ErrClosed 注册表已关闭，服务正在停止
	ErrClosed = errors.New("viewer registry closed")
)

// Factory 为新的查看者创建引擎
type Factory func() *inbox.Engine

// Viewer 一个在线查看者
type Viewer struct {
	ID        string
	Engine    *inbox.Engine
	CreatedAt time.Time

	lastSeen atomic.Int64
	conns    atomic.Int32
}

// Touch 记录一次访问
func (v *Viewer) Touch(now time.Time) {
	v.lastSeen.Store(now.UnixNano())
}

// LastSeen 返回最近一次访问时间
func (v *Viewer) LastSeen() time.Time {
	return time.Unix(0, v.lastSeen.Load())
}

// Attach 登记一个实时连接，连接存在期间查看者不会被回收
func (v *Viewer) Attach() {
	v.conns.Add(1)
}

// Detach 注销一个实时连接
func (v *Viewer) Detach(now time.Time) {
	v.conns.Add(-1)
	v.Touch(now)
}

// Connections 返回当前实时连接数
func (v *Viewer) Connections() int {
	return int(v.conns.Load())
}

// Registry 查看者注册表
//
// 特点：
// - 数量上限
// - 闲置超时自动回收，回收时停止引擎
type Registry struct {
	factory Factory
	max     int
	idleTTL time.Duration
	base    context.Context
	now     func() time.Time
	metrics *monitoring.Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	viewers map[string]*Viewer
	closed  bool
}

// Option 配置 Registry
type Option func(*Registry)

// WithContext 设置引擎后台循环使用的上下文
func WithContext(ctx context.Context) Option {
	return func(r *Registry) { r.base = ctx }
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log.With(zap.String("component", "viewer")) }
}

// NewRegistry 创建查看者注册表
func NewRegistry(factory Factory, cfg config.ViewerConfig, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		max:     cfg.MaxViewers,
		idleTTL: cfg.IdleTTL,
		base:    context.Background(),
		now:     time.Now,
		log:     zap.NewNop(),
		viewers: make(map[string]*Viewer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create 注册新的查看者并启动其引擎。
//
// 首个会话创建失败不会导致注册失败，错误会体现在快照中，返回的 error 仅供记录。
func (r *Registry) Create() (*Viewer, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.max > 0 && len(r.viewers) >= r.max {
		r.mu.Unlock()
		return nil, ErrLimitReached
	}

	now := r.now()
	v := &Viewer{
		ID:        uuid.New().String(),
		Engine:    r.factory(),
		CreatedAt: now,
	}
	v.Touch(now)
	r.viewers[v.ID] = v
	r.mu.Unlock()

	r.updateMetrics()
	r.log.Info("viewer registered", zap.String("viewer_id", v.ID))

	if err := v.Engine.Start(r.base); err != nil {
		r.log.Warn("initial session failed", zap.String("viewer_id", v.ID), zap.Error(err))
		return v, fmt.Errorf("viewer %s: %w", v.ID, err)
	}
	return v, nil
}

// Get 返回查看者并记录一次访问
func (r *Registry) Get(id string) (*Viewer, error) {
	r.mu.RLock()
	v, ok := r.viewers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	v.Touch(r.now())
	return v, nil
}

// Remove 注销查看者并停止其引擎
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	v, ok := r.viewers[id]
	delete(r.viewers, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	v.Engine.Stop()
	r.updateMetrics()
	r.log.Info("viewer removed", zap.String("viewer_id", id))
	return nil
}

// Len 返回在线查看者数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// Degraded 返回轮询处于降级状态的查看者数量
func (r *Registry) Degraded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, v := range r.viewers {
		if v.Engine.Degraded() {
			n++
		}
	}
	return n
}

// Sweep 回收闲置超时且没有实时连接的查看者，返回回收数量
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	var idle []*Viewer
	for id, v := range r.viewers {
		if v.Connections() > 0 {
			continue
		}
		if now.Sub(v.LastSeen()) > r.idleTTL {
			idle = append(idle, v)
			delete(r.viewers, id)
		}
	}
	r.mu.Unlock()

	for _, v := range idle {
		v.Engine.Stop()
		r.log.Info("idle viewer evicted", zap.String("viewer_id", v.ID), zap.Time("last_seen", v.LastSeen()))
	}
	r.updateMetrics()
	return len(idle)
}

// Run 定期回收闲置查看者，直到 ctx 结束
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Close 停止所有引擎，之后不再接受新的查看者
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	viewers := r.viewers
	r.viewers = make(map[string]*Viewer)
	r.mu.Unlock()

	for _, v := range viewers {
		v.Engine.Stop()
	}
	r.updateMetrics()
}

func (r *Registry) updateMetrics() {
	if r.metrics == nil {
		return
	}
	r.metrics.UpdateViewers(r.Len(), r.Degraded())
}
