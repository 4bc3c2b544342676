package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/provider"
)

// DefaultBudget 会话默认倒计时预算
const DefaultBudget = 600 * time.Second

// SupersedeFunc 在新会话被采纳时调用（持有管理器锁），prev 可能为 nil。
// 实现不得回调 Manager。
type SupersedeFunc func(prev *domain.Session, next domain.Session)

// Manager 持有并替换当前临时邮箱会话。
//
// 每次创建都分配单调递增的请求序号，只有序号等于最新序号的结果才会被采纳，
// 与网络完成顺序无关。
type Manager struct {
	creator   provider.MailboxCreator
	budget    time.Duration
	now       func() time.Time
	onReplace SupersedeFunc
	log       *zap.Logger

	mu       sync.Mutex
	current  *domain.Session
	latest   uint64 // 最近一次发出的请求序号
	inflight int
}

// Option 配置 Manager
type Option func(*Manager)

// WithBudget 设置会话倒计时预算
func WithBudget(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.budget = d
		}
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log.With(zap.String("component", "session")) }
}

// OnSupersede 注册会话替换钩子
func OnSupersede(fn SupersedeFunc) Option {
	return func(m *Manager) { m.onReplace = fn }
}

// NewManager 创建会话管理器
func NewManager(creator provider.MailboxCreator, opts ...Option) *Manager {
	m := &Manager{
		creator: creator,
		budget:  DefaultBudget,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create 申请新邮箱并在其仍为最新请求时采纳为当前会话。
//
// 上游失败时返回分类错误，原会话保持不变；结果已被更新的请求取代时返回
// domain.ErrStaleResult。
func (m *Manager) Create(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	m.latest++
	reqID := m.latest
	m.inflight++
	m.mu.Unlock()

	mb, err := m.creator.CreateMailbox(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--

	if reqID != m.latest {
		m.log.Debug("discarding superseded create result",
			zap.Uint64("request", reqID),
			zap.Uint64("latest", m.latest),
			zap.Error(err),
		)
		return domain.Session{}, fmt.Errorf("%w: create request %d superseded by %d", domain.ErrStaleResult, reqID, m.latest)
	}
	if err != nil {
		m.log.Warn("create mailbox failed", zap.Uint64("request", reqID), zap.Error(err))
		return domain.Session{}, err
	}

	createdAt := m.now().UTC()
	next := domain.Session{
		ID:          mb.ID,
		Address:     mb.Address,
		Credentials: mb.Credentials,
		CreatedAt:   createdAt,
		ExpiresAt:   expiry(createdAt, mb.ExpiresAt, m.budget),
		Budget:      m.budget,
		Generation:  reqID,
	}

	prev := m.current
	m.current = &next
	if m.onReplace != nil {
		m.onReplace(prev, next)
	}

	m.log.Info("session created",
		zap.String("session_id", next.ID),
		zap.String("address", next.Address),
		zap.Uint64("generation", reqID),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

// Current 返回当前会话
func (m *Manager) Current() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Session{}, false
	}
	return *m.current, true
}

// IsCurrent 判断会话 ID 是否仍为当前会话
func (m *Manager) IsCurrent(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.ID == sessionID
}

// InFlight 判断是否有最新的创建请求仍在进行中
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight > 0
}

// Budget 返回会话倒计时预算
func (m *Manager) Budget() time.Duration {
	return m.budget
}

// expiry 以创建时间加预算为上限，上游给出更早的过期时间时以上游为准
func expiry(createdAt, providerExpiry time.Time, budget time.Duration) time.Time {
	limit := createdAt.Add(budget)
	if providerExpiry.IsZero() || providerExpiry.After(limit) {
		return limit
	}
	return providerExpiry
}
