package domain

import (
	"strings"
	"time"
)

const (
	// UnknownSenderName 发件人名称和地址都缺失时的占位名称
	UnknownSenderName = "Unknown Sender"
	// UnknownSenderAddress 发件人地址缺失时的占位地址
	UnknownSenderAddress = "no-reply@unknown.com"
)

// Sender 邮件发件人，名称与地址均可能缺失。
type Sender struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// DisplayName 返回用于展示的发件人名称。
func (s Sender) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if addr := strings.TrimSpace(s.Address); addr != "" {
		return addr
	}
	return UnknownSenderName
}

// DisplayAddress 返回用于展示的发件人地址。
func (s Sender) DisplayAddress() string {
	if addr := strings.TrimSpace(s.Address); addr != "" {
		return addr
	}
	return UnknownSenderAddress
}

// Initials 返回发件人名称首字母（最多两个，大写）。
func (s Sender) Initials() string {
	var b strings.Builder
	for _, part := range strings.Fields(s.DisplayName()) {
		if b.Len() >= 2 {
			break
		}
		r := []rune(part)
		b.WriteString(strings.ToUpper(string(r[0])))
	}
	if b.Len() == 0 {
		return "S"
	}
	return b.String()
}

// MessageSummary 是轮询邮件列表时返回的邮件摘要，不包含正文。
type MessageSummary struct {
	ID         string    `json:"id"`
	From       Sender    `json:"from"`
	Subject    string    `json:"subject"`
	Intro      string    `json:"intro,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
	Seen       bool      `json:"seen"`
}

// MessageBody 邮件正文，HTML 内容原样透传，不做解析或清洗。
type MessageBody struct {
	HTML string `json:"html"`
}

// BodyState 邮件正文的加载状态
type BodyState string

const (
	BodyNone    BodyState = "none"
	BodyLoading BodyState = "loading"
	BodyLoaded  BodyState = "loaded"
	BodyFailed  BodyState = "failed"
)

// Message 是缓存中的一封邮件：摘要加上可选的正文。
type Message struct {
	MessageSummary
	Body      *MessageBody `json:"body,omitempty"`
	BodyState BodyState    `json:"bodyState"`
}

// HasBody 判断正文是否已加载。
func (m Message) HasBody() bool {
	return m.Body != nil
}
