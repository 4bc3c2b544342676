package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTickInterval 倒计时刷新间隔
const DefaultTickInterval = time.Second

// LowThreshold 剩余时间不超过该秒数时视为即将过期
const LowThreshold = 60

// Remaining 根据绝对过期时间计算剩余秒数，结果限定在 [0, budget]。
// 不足一秒按一秒计；budget <= 0 时不设上限。
func Remaining(now, expiresAt time.Time, budget time.Duration) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	if budget > 0 {
		if limit := int((budget + time.Second - 1) / time.Second); secs > limit {
			return limit
		}
	}
	return secs
}

// Format 将秒数格式化为 mm:ss
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Low 判断剩余时间是否进入最后一分钟
func Low(seconds int) bool {
	return seconds > 0 && seconds <= LowThreshold
}

// Event 会话过期事件
type Event struct {
	SessionID string
	ExpiresAt time.Time
	At        time.Time
}

// Clock 当前会话的倒计时
//
// 每个会话只会触发一次过期事件，之后的 Tick 不再重复触发。
type Clock struct {
	now      func() time.Time
	onExpire func(Event)
	log      *zap.Logger

	mu        sync.Mutex
	sessionID string
	expiresAt time.Time
	budget    time.Duration
	active    bool
	expired   bool
}

// Option 配置 Clock
type Option func(*Clock)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// OnExpire 注册过期回调，回调在锁外执行
func OnExpire(fn func(Event)) Option {
	return func(c *Clock) { c.onExpire = fn }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(c *Clock) { c.log = log.With(zap.String("component", "countdown")) }
}

// New 创建倒计时
func New(opts ...Option) *Clock {
	c := &Clock{
		now: time.Now,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset 以新会话重新开始倒计时
func (c *Clock) Reset(sessionID string, expiresAt time.Time, budget time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = sessionID
	c.expiresAt = expiresAt
	c.budget = budget
	c.active = true
	c.expired = false
}

// Stop 停止倒计时
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = ""
	c.active = false
	c.expired = false
}

// Remaining 返回当前会话在 now 时刻的剩余秒数，未启动时为 0
func (c *Clock) Remaining(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return 0
	}
	return Remaining(now, c.expiresAt, c.budget)
}

// Expired 判断当前会话是否已过期
func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Tick 推进一次倒计时，返回剩余秒数。首次归零时触发过期事件。
func (c *Clock) Tick(now time.Time) int {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return 0
	}

	remaining := Remaining(now, c.expiresAt, c.budget)
	fire := remaining == 0 && !c.expired
	if fire {
		c.expired = true
	}
	ev := Event{SessionID: c.sessionID, ExpiresAt: c.expiresAt, At: now}
	c.mu.Unlock()

	if fire {
		c.log.Info("session expired", zap.String("session_id", ev.SessionID), zap.Time("expires_at", ev.ExpiresAt))
		if c.onExpire != nil {
			c.onExpire(ev)
		}
	}
	return remaining
}

// Run 按固定间隔推进倒计时，直到 ctx 结束
func (c *Clock) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(c.now())
		}
	}
}
