package domain

import (
	"time"
)

// Credentials 是访问上游邮箱服务所需的凭证，不对外展示。
type Credentials struct {
	Token    string `json:"-"`
	Password string `json:"-"`
}

// IsZero 判断凭证是否为空。
func (c Credentials) IsZero() bool {
	return c.Token == "" && c.Password == ""
}

// Mailbox 是上游邮箱服务创建邮箱后返回的原始结果。
type Mailbox struct {
	ID          string
	Address     string
	Credentials Credentials
	ExpiresAt   time.Time // 零值表示上游不限制有效期
}

// Session 表示当前正在使用的临时邮箱会话。
//
// 同一时刻最多只有一个会话是"当前"会话，新会话创建后旧会话即被取代。
type Session struct {
	ID          string        `json:"id"`
	Address     string        `json:"address"`
	Credentials Credentials   `json:"-"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	Budget      time.Duration `json:"-"`
	Generation  uint64        `json:"generation"`
}

// SessionView 是会话的只读展示视图（不含凭证）。
type SessionView struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	BudgetSeconds int       `json:"budgetSeconds"`
	Expired       bool      `json:"expired"`
}

// View 生成会话展示视图。
func (s Session) View(expired bool) *SessionView {
	return &SessionView{
		ID:            s.ID,
		Address:       s.Address,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
		BudgetSeconds: int(s.Budget / time.Second),
		Expired:       expired,
	}
}
