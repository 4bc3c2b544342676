package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempmail/inboxsync/internal/domain"
)

// cannedMessages 演示模式下循环投递的示例邮件
var cannedMessages = []InboundMessage{
	{
		From:    domain.Sender{Name: "GitHub", Address: "noreply@github.com"},
		Subject: "Please verify your email address",
		HTML:    "<p>Your verification code is <strong>482913</strong>.</p>",
	},
	{
		From:    domain.Sender{Name: "Acme Newsletter", Address: "news@acme.test"},
		Subject: "This week at Acme",
		Text:    "Three things we shipped this week, and one we did not.",
	},
	{
		From:    domain.Sender{Address: "alerts@monitor.test"},
		Subject: "Login from a new device",
		HTML:    "<p>A new sign-in was detected. If this was you, no action is needed.</p>",
	},
	{
		Subject: "",
		Text:    "Message without sender or subject.",
	},
}

// Feed 定期向所有存活邮箱投递示例邮件
type Feed struct {
	provider *Provider
	interval time.Duration
	next     int
	log      *zap.Logger
}

// NewFeed 创建示例邮件投递器
func NewFeed(p *Provider, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Feed{
		provider: p,
		interval: interval,
		log:      p.log.With(zap.String("task", "feed")),
	}
}

// Run 阻塞运行直到 ctx 取消
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.DeliverOnce()
		}
	}
}

// DeliverOnce 向每个存活邮箱投递下一封示例邮件，返回投递数量
func (f *Feed) DeliverOnce() int {
	f.provider.DeleteExpired()

	msg := cannedMessages[f.next%len(cannedMessages)]
	f.next++

	delivered := 0
	for _, address := range f.provider.Addresses() {
		if _, err := f.provider.Deliver(address, msg); err != nil {
			f.log.Debug("feed delivery skipped", zap.String("address", address), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
