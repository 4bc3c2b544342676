package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/domain"
)

// Op 标识可注入故障的上游操作
type Op string

const (
	OpCreate Op = "create"
	OpList   Op = "list"
	OpFetch  Op = "fetch"
)

// Options 内存邮箱服务配置
type Options struct {
	Domains []string
	TTL     time.Duration // 邮箱有效期，<=0 表示不过期
	Logger  *zap.Logger
}

// InboundMessage 投递到内存邮箱的邮件
type InboundMessage struct {
	From    domain.Sender
	Subject string
	Intro   string
	HTML    string
	Text    string
}

type mailbox struct {
	id        string
	address   string
	token     string
	createdAt time.Time
	expiresAt time.Time
}

type message struct {
	summary domain.MessageSummary
	html    string
	text    string
}

// Provider 在进程内模拟临时邮箱服务，主要用于开发验证与测试。
type Provider struct {
	mu        sync.RWMutex
	domains   []string
	ttl       time.Duration
	mailboxes map[string]*mailbox   // mailboxID -> mailbox
	byAddress map[string]string     // address -> mailboxID
	byToken   map[string]string     // token -> mailboxID
	messages  map[string][]*message // mailboxID -> 邮件（最新在前）
	failures  map[Op][]error
	random    *rand.Rand
	now       func() time.Time
	log       *zap.Logger
}

// New 创建内存邮箱服务
func New(opts Options) *Provider {
	domains := make([]string, 0, len(opts.Domains))
	for _, d := range opts.Domains {
		if d = domain.NormalizeAddress(d); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		domains = []string{"temp.mail"}
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Provider{
		domains:   domains,
		ttl:       opts.TTL,
		mailboxes: make(map[string]*mailbox),
		byAddress: make(map[string]string),
		byToken:   make(map[string]string),
		messages:  make(map[string][]*message),
		failures:  make(map[Op][]error),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		log:       log.With(zap.String("component", "memory_provider")),
	}
}

// CreateMailbox 在随机域名上创建随机前缀的邮箱
func (p *Provider) CreateMailbox(ctx context.Context) (domain.Mailbox, error) {
	p.mu.Lock()
	dom := p.domains[p.random.Intn(len(p.domains))]
	p.mu.Unlock()

	localPart := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return p.CreateMailboxWithAddress(ctx, localPart+"@"+dom)
}

// CreateMailboxWithAddress 使用指定地址创建邮箱，地址已存在时返回 domain.ErrAddressConflict
func (p *Provider) CreateMailboxWithAddress(ctx context.Context, address string) (domain.Mailbox, error) {
	if err := p.check(ctx, OpCreate); err != nil {
		return domain.Mailbox{}, err
	}

	address = domain.NormalizeAddress(address)
	if err := domain.ValidateAddress(address); err != nil {
		return domain.Mailbox{}, fmt.Errorf("%w: %v", domain.ErrAddressConflict, err)
	}
	_, dom, _ := domain.SplitAddress(address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allowedLocked(dom) {
		return domain.Mailbox{}, fmt.Errorf("%w: domain %s not served", domain.ErrProviderUnavailable, dom)
	}

	p.pruneExpiredLocked()
	if _, exists := p.byAddress[address]; exists {
		return domain.Mailbox{}, fmt.Errorf("%w: %s already used", domain.ErrAddressConflict, address)
	}

	now := p.now().UTC()
	mb := &mailbox{
		id:        uuid.NewString(),
		address:   address,
		token:     uuid.NewString(),
		createdAt: now,
	}
	if p.ttl > 0 {
		mb.expiresAt = now.Add(p.ttl)
	}

	p.mailboxes[mb.id] = mb
	p.byAddress[address] = mb.id
	p.byToken[mb.token] = mb.id

	p.log.Debug("mailbox created", zap.String("address", address))

	return domain.Mailbox{
		ID:          mb.id,
		Address:     mb.address,
		Credentials: domain.Credentials{Token: mb.token},
		ExpiresAt:   mb.expiresAt,
	}, nil
}

// ListMessages 返回邮箱内全部邮件摘要（最新在前）
func (p *Provider) ListMessages(ctx context.Context, creds domain.Credentials) ([]domain.MessageSummary, error) {
	if err := p.check(ctx, OpList); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	mb, err := p.authorizeLocked(creds)
	if err != nil {
		return nil, err
	}

	msgs := p.messages[mb.id]
	out := make([]domain.MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.summary)
	}
	return out, nil
}

// FetchMessageBody 返回邮件正文；读取后邮件标记为已读
func (p *Provider) FetchMessageBody(ctx context.Context, creds domain.Credentials, messageID string) (domain.MessageBody, error) {
	if err := p.check(ctx, OpFetch); err != nil {
		return domain.MessageBody{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	mb, err := p.authorizeLocked(creds)
	if err != nil {
		return domain.MessageBody{}, err
	}

	for _, m := range p.messages[mb.id] {
		if m.summary.ID != messageID {
			continue
		}
		m.summary.Seen = true
		switch {
		case m.html != "":
			return domain.MessageBody{HTML: m.html}, nil
		case m.text != "":
			return domain.MessageBody{HTML: m.text}, nil
		default:
			return domain.MessageBody{HTML: "<p>No content found.</p>"}, nil
		}
	}
	return domain.MessageBody{}, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
}

// Ping 内存实现始终可用
func (p *Provider) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Deliver 向指定地址投递一封邮件
func (p *Provider) Deliver(address string, in InboundMessage) (domain.MessageSummary, error) {
	address = domain.NormalizeAddress(address)

	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byAddress[address]
	if !ok || p.expiredLocked(p.mailboxes[id]) {
		return domain.MessageSummary{}, fmt.Errorf("%w: mailbox %s", domain.ErrNotFound, address)
	}

	intro := in.Intro
	if intro == "" {
		intro = preview(in.Text, 100)
	}

	msg := &message{
		summary: domain.MessageSummary{
			ID:         uuid.NewString(),
			From:       in.From,
			Subject:    in.Subject,
			Intro:      intro,
			ReceivedAt: p.now().UTC(),
		},
		html: in.HTML,
		text: in.Text,
	}
	p.messages[id] = append([]*message{msg}, p.messages[id]...)

	p.log.Debug("message delivered",
		zap.String("address", address),
		zap.String("subject", in.Subject),
	)
	return msg.summary, nil
}

// MarkSeen 标记邮件为已读（模拟在其他客户端阅读）
func (p *Provider) MarkSeen(address, messageID string) bool {
	address = domain.NormalizeAddress(address)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.messages[p.byAddress[address]] {
		if m.summary.ID == messageID {
			m.summary.Seen = true
			return true
		}
	}
	return false
}

// Revoke 使邮箱凭证失效
func (p *Provider) Revoke(address string) {
	address = domain.NormalizeAddress(address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if mb, ok := p.mailboxes[p.byAddress[address]]; ok {
		delete(p.byToken, mb.token)
	}
}

// FailNext 让指定操作的下一次调用返回 err
func (p *Provider) FailNext(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// Addresses 返回全部未过期邮箱地址
func (p *Provider) Addresses() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.mailboxes))
	for _, mb := range p.mailboxes {
		if !p.expiredLocked(mb) {
			out = append(out, mb.address)
		}
	}
	return out
}

// DeleteExpired 删除所有过期邮箱，返回删除数量
func (p *Provider) DeleteExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pruneExpiredLocked()
}

func (p *Provider) check(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	return err
}

func (p *Provider) authorizeLocked(creds domain.Credentials) (*mailbox, error) {
	id, ok := p.byToken[creds.Token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown credentials", domain.ErrUnauthorized)
	}
	mb := p.mailboxes[id]
	if p.expiredLocked(mb) {
		return nil, fmt.Errorf("%w: mailbox expired", domain.ErrUnauthorized)
	}
	return mb, nil
}

func (p *Provider) allowedLocked(dom string) bool {
	for _, d := range p.domains {
		if d == dom {
			return true
		}
	}
	return false
}

func (p *Provider) expiredLocked(mb *mailbox) bool {
	if mb == nil {
		return true
	}
	return !mb.expiresAt.IsZero() && !p.now().Before(mb.expiresAt)
}

func (p *Provider) pruneExpiredLocked() int {
	count := 0
	for id, mb := range p.mailboxes {
		if !p.expiredLocked(mb) {
			continue
		}
		delete(p.byAddress, mb.address)
		delete(p.byToken, mb.token)
		delete(p.messages, id)
		delete(p.mailboxes, id)
		count++
	}
	return count
}

// preview 截取前 n 个字符作为摘要
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > n {
		return string(r[:n])
	}
	return text
}
