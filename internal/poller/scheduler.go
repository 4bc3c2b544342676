package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/provider"
)

const (
	// DefaultInterval 默认轮询间隔
	DefaultInterval = 7 * time.Second
	// DefaultFailureThreshold 连续失败多少次后进入降级状态
	DefaultFailureThreshold = 3
	// DefaultTimeout 单次拉取超时
	DefaultTimeout = 15 * time.Second
)

// Sink 接收轮询结果，通常是 cache.MessageCache
type Sink interface {
	Merge(sessionID string, fresh []domain.MessageSummary) (bool, error)
}

// Target 轮询目标会话
type Target struct {
	SessionID   string
	Credentials domain.Credentials
}

// Status 轮询状态
type Status struct {
	State               domain.PollStatus
	SessionID           string
	Paused              bool
	ConsecutiveFailures int
	LastError           error
	LastSuccess         time.Time
}

// call 一次进行中的拉取
type call struct {
	done chan struct{}
	err  error
}

// run 单个会话的轮询状态，会话切换时整体替换
type run struct {
	target      Target
	inflight    *call
	paused      bool
	failures    int
	lastError   error
	lastSuccess time.Time
}

// Scheduler 周期拉取邮件列表
//
// 同一会话同一时刻最多只有一个拉取在进行：
// - 定时触发时若正在拉取则直接跳过
// - RefreshNow 遇到进行中的拉取时等待其完成并返回其结果
type Scheduler struct {
	lister    provider.MessageLister
	sink      Sink
	interval  time.Duration
	threshold int
	timeout   time.Duration
	now       func() time.Time
	onChange  func()
	metrics   *monitoring.Metrics
	log       *zap.Logger

	mu  sync.Mutex
	run *run
}

// Option 配置 Scheduler
type Option func(*Scheduler)

// WithInterval 设置轮询间隔
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithFailureThreshold 设置降级阈值
func WithFailureThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithTimeout 设置单次拉取超时
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// OnChange 注册状态变化回调，回调在锁外执行
func OnChange(fn func()) Option {
	return func(s *Scheduler) { s.onChange = fn }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = log.With(zap.String("component", "poller")) }
}

// New 创建轮询调度器
func New(lister provider.MessageLister, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		lister:    lister,
		sink:      sink,
		interval:  DefaultInterval,
		threshold: DefaultFailureThreshold,
		timeout:   DefaultTimeout,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval 返回轮询间隔
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// SetTarget 切换轮询目标并立即拉取一次。target 为 nil 时停止轮询。
//
// 旧会话尚未返回的结果在到达时被丢弃。
func (s *Scheduler) SetTarget(ctx context.Context, target *Target) {
	s.mu.Lock()
	if target == nil {
		s.run = nil
		s.mu.Unlock()
		s.notify()
		return
	}
	r := &run{target: *target}
	s.run = r
	c := s.beginLocked(r)
	s.mu.Unlock()

	s.notify()
	go s.fetch(ctx, r, c)
}

// Pause 暂停指定会话的定时轮询，手动刷新不受影响
func (s *Scheduler) Pause(sessionID string) {
	s.mu.Lock()
	changed := false
	if s.run != nil && s.run.target.SessionID == sessionID && !s.run.paused {
		s.run.paused = true
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.log.Info("polling paused", zap.String("session_id", sessionID))
		s.notify()
	}
}

// Tick 处理一次定时触发，返回是否启动了新的拉取
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.Lock()
	r := s.run
	if r == nil || r.paused || r.inflight != nil {
		s.mu.Unlock()
		return false
	}
	c := s.beginLocked(r)
	s.mu.Unlock()

	s.notify()
	go s.fetch(ctx, r, c)
	return true
}

// RefreshNow 立即拉取一次。已有拉取进行中时不会发起新的请求，而是等待其完成。
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return domain.ErrNoSession
	}
	if c := r.inflight; c != nil {
		s.mu.Unlock()
		return wait(ctx, c)
	}
	c := s.beginLocked(r)
	s.mu.Unlock()

	s.notify()
	s.fetch(ctx, r, c)
	return c.err
}

// Status 返回当前轮询状态
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	if r == nil {
		return Status{State: domain.PollIdle}
	}
	st := Status{
		State:               domain.PollIdle,
		SessionID:           r.target.SessionID,
		Paused:              r.paused,
		ConsecutiveFailures: r.failures,
		LastError:           r.lastError,
		LastSuccess:         r.lastSuccess,
	}
	switch {
	case r.failures >= s.threshold:
		st.State = domain.PollDegraded
	case r.inflight != nil:
		st.State = domain.PollFetching
	}
	return st
}

// Run 按固定间隔触发轮询，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) beginLocked(r *run) *call {
	c := &call{done: make(chan struct{})}
	r.inflight = c
	return c
}

// fetch 执行一次拉取。请求与调用方的取消解耦，只受超时约束。
func (s *Scheduler) fetch(parent context.Context, r *run, c *call) {
	start := s.now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.timeout)
	fresh, err := s.lister.ListMessages(ctx, r.target.Credentials)
	cancel()
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	r.inflight = nil
	if s.run == r && err == nil {
		_, err = s.sink.Merge(r.target.SessionID, fresh)
	}
	if s.run != r || errors.Is(err, domain.ErrStaleResult) {
		c.err = fmt.Errorf("%w: poll for session %s", domain.ErrStaleResult, r.target.SessionID)
		close(c.done)
		s.mu.Unlock()

		s.metrics.RecordStale("poll")
		s.log.Debug("discarding poll result for superseded session", zap.String("session_id", r.target.SessionID))
		return
	}

	becameDegraded, recovered := false, false
	if err != nil {
		r.failures++
		r.lastError = err
		becameDegraded = r.failures == s.threshold
	} else {
		recovered = r.failures >= s.threshold
		r.failures = 0
		r.lastError = nil
		r.lastSuccess = s.now()
	}
	failures := r.failures
	c.err = err
	close(c.done)
	s.mu.Unlock()

	s.metrics.RecordPoll(domain.ErrorKind(err), elapsed)
	switch {
	case becameDegraded:
		s.log.Warn("polling degraded",
			zap.String("session_id", r.target.SessionID),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
	case recovered:
		s.log.Info("polling recovered", zap.String("session_id", r.target.SessionID))
	case err != nil:
		s.log.Debug("poll failed",
			zap.String("session_id", r.target.SessionID),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
	}
	s.notify()
}

func (s *Scheduler) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func wait(ctx context.Context, c *call) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
