// Package inbox 组合会话、缓存、轮询、正文加载与倒计时，对展示层提供快照与动作。
package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxsync/internal/body"
	"tempmail/inboxsync/internal/cache"
	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/countdown"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/poller"
	"tempmail/inboxsync/internal/pool"
	"tempmail/inboxsync/internal/provider"
	"tempmail/inboxsync/internal/session"
)

// Engine 单个查看者的收件箱同步核心
type Engine struct {
	sessions *session.Manager
	cache    *cache.MessageCache
	poller   *poller.Scheduler
	bodies   *body.Fetcher
	clock    *countdown.Clock

	tick    time.Duration
	now     func() time.Time
	pool    *pool.WorkerPool
	metrics *monitoring.Metrics
	log     *zap.Logger

	version atomic.Uint64
	changed chan struct{}

	mu        sync.Mutex
	lastError string
	subs      map[int]chan domain.Snapshot
	nextSub   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
}

// Option 配置 Engine
type Option func(*Engine)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPool 设置后台动作协程池
func WithPool(p *pool.WorkerPool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New 创建收件箱同步核心
func New(p provider.Provider, cfg config.InboxConfig, opts ...Option) *Engine {
	e := &Engine{
		tick:    cfg.TickInterval,
		now:     time.Now,
		log:     zap.NewNop(),
		changed: make(chan struct{}, 1),
		subs:    make(map[int]chan domain.Snapshot),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cache = cache.New()
	e.clock = countdown.New(
		countdown.WithClock(e.now),
		countdown.WithLogger(e.log),
		countdown.OnExpire(e.handleExpired),
	)
	e.poller = poller.New(p, e.cache,
		poller.WithInterval(cfg.PollInterval),
		poller.WithFailureThreshold(cfg.FailureThreshold),
		poller.WithTimeout(cfg.PollTimeout),
		poller.WithClock(e.now),
		poller.WithMetrics(e.metrics),
		poller.WithLogger(e.log),
		poller.OnChange(e.notify),
	)
	e.bodies = body.NewFetcher(p, e.cache,
		body.WithTimeout(cfg.BodyTimeout),
		body.WithMetrics(e.metrics),
		body.WithLogger(e.log),
		body.OnChange(e.notify),
	)
	e.sessions = session.NewManager(p,
		session.WithBudget(cfg.Budget),
		session.WithClock(e.now),
		session.WithLogger(e.log),
		session.OnSupersede(e.supersede),
	)
	return e
}

// supersede 在会话管理器锁内执行：清空缓存、重置倒计时、切换轮询目标
func (e *Engine) supersede(prev *domain.Session, next domain.Session) {
	e.cache.Reset(next.ID)
	e.clock.Reset(next.ID, next.ExpiresAt, next.Budget)
	e.poller.SetTarget(e.runContext(), &poller.Target{
		SessionID:   next.ID,
		Credentials: next.Credentials,
	})
	if prev != nil {
		e.log.Info("session superseded",
			zap.String("previous", prev.ID),
			zap.String("current", next.ID),
		)
	}
}

func (e *Engine) handleExpired(ev countdown.Event) {
	if !e.sessions.IsCurrent(ev.SessionID) {
		return
	}
	e.poller.Pause(ev.SessionID)
	e.metrics.RecordSessionExpired()
	e.notify()
}

// Start 启动轮询、倒计时与快照推送，并创建首个会话。
//
// 首个会话创建失败时返回错误，后台循环保持运行，可以随后调用 CreateNewSession 重试。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.wg.Add(3)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.poller.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.clock.Run(runCtx, e.tick)
	}()
	go func() {
		defer e.wg.Done()
		e.publishLoop(runCtx)
	}()

	if _, ok := e.sessions.Current(); ok {
		return nil
	}
	_, err := e.CreateNewSession(runCtx)
	if errors.Is(err, domain.ErrStaleResult) {
		return nil
	}
	return err
}

// Stop 停止后台循环并关闭所有订阅
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.poller.SetTarget(context.Background(), nil)
	e.clock.Stop()

	e.mu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.mu.Unlock()
}

// CreateNewSession 申请新的临时邮箱并取代当前会话
func (e *Engine) CreateNewSession(ctx context.Context) (domain.Session, error) {
	e.notify()
	sess, err := e.sessions.Create(ctx)
	e.metrics.RecordSessionCreate(domain.ErrorKind(err))

	switch {
	case err == nil:
		e.setLastError("")
	case errors.Is(err, domain.ErrStaleResult):
		// 被更晚发起的请求取代，不影响界面状态
	default:
		e.setLastError(err.Error())
	}
	e.notify()
	return sess, err
}

// RefreshNow 立即刷新邮件列表
func (e *Engine) RefreshNow(ctx context.Context) error {
	return e.poller.RefreshNow(ctx)
}

// ExpandMessage 加载并返回邮件正文
func (e *Engine) ExpandMessage(ctx context.Context, messageID string) (domain.MessageBody, error) {
	sess, ok := e.sessions.Current()
	if !ok {
		return domain.MessageBody{}, domain.ErrNoSession
	}
	return e.bodies.Fetch(ctx, sess, messageID)
}

// ExpandAsync 在后台加载邮件正文，结果通过快照推送。队列已满时返回 false。
func (e *Engine) ExpandAsync(messageID string) bool {
	return e.Go(func(ctx context.Context) {
		_, _ = e.ExpandMessage(ctx, messageID)
	})
}

// Go 在协程池上执行后台动作，未配置协程池时直接启动协程
func (e *Engine) Go(fn func(ctx context.Context)) bool {
	ctx := e.runContext()
	if e.pool == nil {
		go fn(ctx)
		return true
	}
	return e.pool.TrySubmit(func() { fn(ctx) })
}

// Snapshot 返回当前状态的只读快照
func (e *Engine) Snapshot() domain.Snapshot {
	now := e.now()
	st := e.poller.Status()

	snap := domain.Snapshot{
		Messages:            []domain.Message{},
		PollStatus:          st.State,
		Creating:            e.sessions.InFlight(),
		ConsecutiveFailures: st.ConsecutiveFailures,
		Version:             e.version.Load(),
	}
	e.mu.Lock()
	snap.LastError = e.lastError
	e.mu.Unlock()

	sess, ok := e.sessions.Current()
	expired := false
	if ok {
		snap.RemainingSeconds = countdown.Remaining(now, sess.ExpiresAt, sess.Budget)
		expired = snap.RemainingSeconds == 0
		snap.Session = sess.View(expired)
		if e.cache.SessionID() == sess.ID {
			snap.Messages = e.cache.Messages()
		}
		if st.SessionID != sess.ID {
			snap.PollStatus = domain.PollIdle
			snap.ConsecutiveFailures = 0
		}
	}
	snap.State = domain.ResolveDisplayState(ok, expired, snap.PollStatus, len(snap.Messages))
	return snap
}

// Degraded 判断轮询是否处于降级状态
func (e *Engine) Degraded() bool {
	return e.poller.Status().State == domain.PollDegraded
}

// Subscribe 订阅快照变化。
//
// 订阅通道只保留最新的一份快照，消费慢时中间状态会被跳过。
// 返回的取消函数可以重复调用。
func (e *Engine) Subscribe() (<-chan domain.Snapshot, func()) {
	// 首份快照在登记前写入缓冲，登记后通道只由 publish 和 Stop 操作
	snap := e.Snapshot()
	ch := make(chan domain.Snapshot, 1)
	ch <- snap

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		closed := make(chan domain.Snapshot)
		close(closed)
		return closed, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	// 登记前发生的变化已错过一次推送，补发
	if e.version.Load() != snap.Version {
		e.notify()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				close(c)
				delete(e.subs, id)
			}
		})
	}
}

// notify 标记状态已变化，不阻塞调用方
func (e *Engine) notify() {
	e.version.Add(1)
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.changed:
			e.publish(e.Snapshot())
		}
	}
}

func (e *Engine) publish(snap domain.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// 丢弃未被消费的旧快照
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}
