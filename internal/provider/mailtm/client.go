package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/inboxsync/internal/domain"
)

const (
	// DefaultBaseURL mail.tm 公共 API 地址
	DefaultBaseURL = "https://api.mail.tm"

	// noContentHTML 邮件既无 HTML 也无纯文本时的占位内容
	noContentHTML = "<p>No content found.</p>"

	// maxErrorBody 读取错误响应体的上限
	maxErrorBody = 64 * 1024
)

// Options mail.tm 客户端配置
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // 每秒请求数，<=0 表示不限流
	Burst      int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client 实现 provider.Provider，对接 mail.tm 公共临时邮箱 API。
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

// New 创建 mail.tm 客户端
func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		limiter: limiter,
		log:     log.With(zap.String("component", "mailtm")),
		now:     time.Now,
	}
}

// CreateMailbox 选取可用域名并注册新账户，随后换取访问令牌。
//
// 地址冲突时会换一个随机前缀重试一次。
func (c *Client) CreateMailbox(ctx context.Context) (domain.Mailbox, error) {
	dom, err := c.firstDomain(ctx)
	if err != nil {
		return domain.Mailbox{}, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		address := fmt.Sprintf("%s@%s", randomLocalPart(), dom)
		password := randomPassword()

		account, err := c.createAccount(ctx, address, password)
		if errors.Is(err, domain.ErrAddressConflict) {
			c.log.Debug("address already used, retrying", zap.String("address", address))
			lastErr = err
			continue
		}
		if err != nil {
			return domain.Mailbox{}, err
		}

		token, err := c.token(ctx, address, password)
		if err != nil {
			return domain.Mailbox{}, err
		}

		return domain.Mailbox{
			ID:      account.ID,
			Address: address,
			Credentials: domain.Credentials{
				Token:    token,
				Password: password,
			},
		}, nil
	}
	return domain.Mailbox{}, lastErr
}

// ListMessages 拉取第一页邮件摘要
func (c *Client) ListMessages(ctx context.Context, creds domain.Credentials) ([]domain.MessageSummary, error) {
	var page collection[messageResource]
	if err := c.do(ctx, http.MethodGet, "/messages", creds.Token, nil, &page); err != nil {
		return nil, err
	}

	summaries := make([]domain.MessageSummary, 0, len(page.Members))
	for _, m := range page.Members {
		summaries = append(summaries, toSummary(m))
	}
	return summaries, nil
}

// FetchMessageBody 获取邮件正文：优先 HTML，其次纯文本。
func (c *Client) FetchMessageBody(ctx context.Context, creds domain.Credentials, messageID string) (domain.MessageBody, error) {
	if messageID == "" {
		return domain.MessageBody{}, fmt.Errorf("%w: empty message id", domain.ErrNotFound)
	}

	var msg messageResource
	path := "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodGet, path, creds.Token, nil, &msg); err != nil {
		return domain.MessageBody{}, err
	}

	switch {
	case len(msg.HTML) > 0 && msg.HTML[0] != "":
		return domain.MessageBody{HTML: msg.HTML[0]}, nil
	case msg.Text != "":
		return domain.MessageBody{HTML: msg.Text}, nil
	default:
		return domain.MessageBody{HTML: noContentHTML}, nil
	}
}

// Ping 探测 mail.tm 是否可用
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.firstDomain(ctx)
	return err
}

func (c *Client) firstDomain(ctx context.Context) (string, error) {
	var page collection[domainResource]
	if err := c.do(ctx, http.MethodGet, "/domains", "", nil, &page); err != nil {
		return "", err
	}
	for _, d := range page.Members {
		if d.IsActive && d.Domain != "" {
			return strings.ToLower(d.Domain), nil
		}
	}
	return "", fmt.Errorf("%w: no domains available", domain.ErrProviderUnavailable)
}

func (c *Client) createAccount(ctx context.Context, address, password string) (accountResource, error) {
	var account accountResource
	err := c.do(ctx, http.MethodPost, "/accounts", "", accountRequest{Address: address, Password: password}, &account)
	return account, err
}

func (c *Client) token(ctx context.Context, address, password string) (string, error) {
	var tok tokenResource
	if err := c.do(ctx, http.MethodPost, "/token", "", accountRequest{Address: address, Password: password}, &tok); err != nil {
		return "", err
	}
	if tok.Token == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrProviderUnavailable)
	}
	return tok.Token, nil
}

// do 发送请求并把响应解码到 out，非 2xx 状态映射为领域错误
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/ld+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrProviderUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("provider request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", domain.ErrProviderUnavailable, err)
	}
	return nil
}

// statusError 把 HTTP 状态码映射为领域错误
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var p problem
	_ = json.Unmarshal(raw, &p)
	detail := p.text()
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.ErrUnauthorized
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusUnprocessableEntity, http.StatusConflict:
		kind = domain.ErrAddressConflict
	default:
		kind = domain.ErrProviderUnavailable
	}
	return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, detail)
}

func toSummary(m messageResource) domain.MessageSummary {
	var from domain.Sender
	if m.From != nil {
		from = domain.Sender{Name: m.From.Name, Address: m.From.Address}
	}
	return domain.MessageSummary{
		ID:         m.ID,
		From:       from,
		Subject:    m.Subject,
		Intro:      m.Intro,
		ReceivedAt: m.CreatedAt,
		Seen:       m.Seen,
	}
}

// randomLocalPart 生成 10 位随机前缀
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
