package provider

import (
	"context"

	"tempmail/inboxsync/internal/domain"
)

// MailboxCreator 创建临时邮箱
type MailboxCreator interface {
	// CreateMailbox 申请新地址与凭证
	// 可能返回 domain.ErrProviderUnavailable 或 domain.ErrAddressConflict
	CreateMailbox(ctx context.Context) (domain.Mailbox, error)
}

// MessageLister 拉取邮件摘要列表
type MessageLister interface {
	// ListMessages 返回邮箱内的邮件摘要（通常最新在前）
	// 可能返回 domain.ErrProviderUnavailable 或 domain.ErrUnauthorized
	ListMessages(ctx context.Context, creds domain.Credentials) ([]domain.MessageSummary, error)
}

// BodyFetcher 按需获取单封邮件正文
type BodyFetcher interface {
	// FetchMessageBody 返回邮件正文
	// 可能返回 domain.ErrProviderUnavailable、domain.ErrUnauthorized 或 domain.ErrNotFound
	FetchMessageBody(ctx context.Context, creds domain.Credentials, messageID string) (domain.MessageBody, error)
}

// Provider 是收件箱核心依赖的上游邮箱服务抽象。
type Provider interface {
	MailboxCreator
	MessageLister
	BodyFetcher
}

// Pinger 可选接口：用于就绪检查探测上游可用性
type Pinger interface {
	Ping(ctx context.Context) error
}
