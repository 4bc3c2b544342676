// Package providertest 提供可逐次放行的上游邮箱服务替身，用于模拟乱序完成与故障。
package providertest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"tempmail/inboxsync/internal/domain"
)

// 调用类型
const (
	OpCreate = "create"
	OpList   = "list"
	OpFetch  = "fetch"
)

// Result 测试为一次调用给出的结果
type Result struct {
	Mailbox  domain.Mailbox
	Messages []domain.MessageSummary
	Body     domain.MessageBody
	Err      error
}

// Call 一次被挂起的上游调用
type Call struct {
	Op          string
	Credentials domain.Credentials
	MessageID   string
	result      chan Result
}

// Resolve 放行该调用
func (c *Call) Resolve(r Result) {
	c.result <- r
}

// Fail 以错误放行该调用
func (c *Call) Fail(err error) {
	c.result <- Result{Err: err}
}

// Fake 实现 provider.Provider：每次调用都会挂起并推送到 Calls，直到测试放行。
type Fake struct {
	Calls chan *Call
	count map[string]*int64
}

// NewFake 创建替身
func NewFake() *Fake {
	return &Fake{
		Calls: make(chan *Call, 64),
		count: map[string]*int64{OpCreate: new(int64), OpList: new(int64), OpFetch: new(int64)},
	}
}

// CreateMailbox 实现 provider.MailboxCreator
func (f *Fake) CreateMailbox(ctx context.Context) (domain.Mailbox, error) {
	r := f.await(ctx, &Call{Op: OpCreate})
	return r.Mailbox, r.Err
}

// ListMessages 实现 provider.MessageLister
func (f *Fake) ListMessages(ctx context.Context, creds domain.Credentials) ([]domain.MessageSummary, error) {
	r := f.await(ctx, &Call{Op: OpList, Credentials: creds})
	return r.Messages, r.Err
}

// FetchMessageBody 实现 provider.BodyFetcher
func (f *Fake) FetchMessageBody(ctx context.Context, creds domain.Credentials, messageID string) (domain.MessageBody, error) {
	r := f.await(ctx, &Call{Op: OpFetch, Credentials: creds, MessageID: messageID})
	return r.Body, r.Err
}

// Count 返回某类调用的次数
func (f *Fake) Count(op string) int {
	return int(atomic.LoadInt64(f.count[op]))
}

// Next 等待下一次调用，超时则测试失败
func (f *Fake) Next(t testing.TB, op string) *Call {
	t.Helper()
	select {
	case c := <-f.Calls:
		if c.Op != op {
			t.Fatalf("expected %s call, got %s", op, c.Op)
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s call", op)
		return nil
	}
}

// AssertNoCall 断言一段时间内没有新的调用
func (f *Fake) AssertNoCall(t testing.TB, within time.Duration) {
	t.Helper()
	select {
	case c := <-f.Calls:
		t.Fatalf("unexpected %s call", c.Op)
	case <-time.After(within):
	}
}

func (f *Fake) await(ctx context.Context, c *Call) Result {
	atomic.AddInt64(f.count[c.Op], 1)
	c.result = make(chan Result, 1)
	f.Calls <- c
	select {
	case r := <-c.result:
		return r
	case <-ctx.Done():
		return Result{Err: fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, ctx.Err())}
	}
}

// Mailbox 构造测试邮箱
func Mailbox(id, address string) domain.Mailbox {
	return domain.Mailbox{
		ID:          id,
		Address:     address,
		Credentials: domain.Credentials{Token: "token-" + id},
	}
}
