// Package body 按需加载邮件正文，同一封邮件最多只发起一次成功的加载。
package body

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/provider"
)

// DefaultTimeout 单次正文加载超时
const DefaultTimeout = 20 * time.Second

// Store 正文的落点，通常是 cache.MessageCache
type Store interface {
	SessionID() string
	Body(messageID string) (domain.MessageBody, bool)
	SetBodyState(sessionID, messageID string, state domain.BodyState) error
	AttachBody(sessionID, messageID string, body domain.MessageBody) error
}

// Fetcher 正文加载器
type Fetcher struct {
	provider provider.BodyFetcher
	store    Store
	group    singleflight.Group
	timeout  time.Duration
	onChange func()
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// Option 配置 Fetcher
type Option func(*Fetcher)

// WithTimeout 设置单次加载超时
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// OnChange 注册正文状态变化回调
func OnChange(fn func()) Option {
	return func(f *Fetcher) { f.onChange = fn }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(f *Fetcher) { f.log = log.With(zap.String("component", "body")) }
}

// NewFetcher 创建正文加载器
func NewFetcher(p provider.BodyFetcher, store Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider: p,
		store:    store,
		timeout:  DefaultTimeout,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch 返回邮件正文。
//
// 已加载过的正文直接返回；同一封邮件的并发调用共享一次上游请求；
// 加载失败后允许再次重试。调用方取消只影响自身的等待，不会中断共享请求。
func (f *Fetcher) Fetch(ctx context.Context, sess domain.Session, messageID string) (domain.MessageBody, error) {
	if f.store.SessionID() != sess.ID {
		return domain.MessageBody{}, fmt.Errorf("%w: session %s is no longer current", domain.ErrStaleResult, sess.ID)
	}
	if b, ok := f.store.Body(messageID); ok {
		return b, nil
	}

	key := sess.ID + "/" + messageID
	ch := f.group.DoChan(key, func() (interface{}, error) {
		return f.load(context.WithoutCancel(ctx), sess, messageID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.MessageBody{}, res.Err
		}
		return res.Val.(domain.MessageBody), nil
	case <-ctx.Done():
		return domain.MessageBody{}, ctx.Err()
	}
}

func (f *Fetcher) load(ctx context.Context, sess domain.Session, messageID string) (domain.MessageBody, error) {
	// 等待期间前一个调用可能已经完成
	if b, ok := f.store.Body(messageID); ok {
		return b, nil
	}
	if err := f.store.SetBodyState(sess.ID, messageID, domain.BodyLoading); err != nil {
		return domain.MessageBody{}, err
	}
	f.notify()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	b, err := f.provider.FetchMessageBody(ctx, sess.Credentials, messageID)
	cancel()

	if err != nil {
		if stateErr := f.store.SetBodyState(sess.ID, messageID, domain.BodyFailed); stateErr == nil {
			f.notify()
		}
		f.metrics.RecordBodyFetch(domain.ErrorKind(err))
		f.log.Warn("fetch message body failed",
			zap.String("session_id", sess.ID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return domain.MessageBody{}, err
	}

	if err := f.store.AttachBody(sess.ID, messageID, b); err != nil {
		if errors.Is(err, domain.ErrStaleResult) {
			f.metrics.RecordStale("body")
			f.log.Debug("discarding body for superseded session",
				zap.String("session_id", sess.ID),
				zap.String("message_id", messageID),
			)
		}
		return domain.MessageBody{}, err
	}

	f.metrics.RecordBodyFetch("ok")
	f.notify()
	return b, nil
}

func (f *Fetcher) notify() {
	if f.onChange != nil {
		f.onChange()
	}
}
