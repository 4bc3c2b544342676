package cache

import (
	"fmt"
	"slices"
	"sync"

	"tempmail/inboxsync/internal/domain"
)

type entry struct {
	summary   domain.MessageSummary
	body      *domain.MessageBody
	state     domain.BodyState
	localSeen bool // 本地已打开，优先于上游报告的 seen
}

func (e *entry) message() domain.Message {
	msg := domain.Message{
		MessageSummary: e.summary,
		BodyState:      e.state,
	}
	msg.Seen = e.summary.Seen || e.localSeen
	if e.body != nil {
		body := *e.body
		msg.Body = &body
	}
	return msg
}

// MessageCache 当前会话的邮件缓存
//
// 两个写入方互不覆盖：
// - 轮询通过 Merge 更新摘要
// - 正文加载通过 AttachBody/SetBodyState 更新正文
//
// 对外展示顺序始终与上游最近一次返回的顺序一致。
type MessageCache struct {
	mu        sync.RWMutex
	sessionID string
	order     []string
	entries   map[string]*entry
	version   uint64
}

// New 创建空缓存
func New() *MessageCache {
	return &MessageCache{entries: make(map[string]*entry)}
}

// Reset 清空缓存并绑定到新的会话
func (c *MessageCache) Reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = sessionID
	c.order = nil
	c.entries = make(map[string]*entry)
	c.version++
}

// SessionID 返回缓存当前绑定的会话
func (c *MessageCache) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Version 每次可见变化后递增
func (c *MessageCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Merge 合并一次轮询结果，返回是否产生了可见变化。
//
// 已存在的邮件只更新上游字段，已加载的正文与本地已读标记保持不变；
// 不在本次结果中的邮件被移除。
func (c *MessageCache) Merge(sessionID string, fresh []domain.MessageSummary) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkSession(sessionID); err != nil {
		return false, err
	}

	order := make([]string, 0, len(fresh))
	next := make(map[string]*entry, len(fresh))
	changed := false

	for _, summary := range fresh {
		if summary.ID == "" {
			continue
		}
		if _, dup := next[summary.ID]; dup {
			continue
		}
		order = append(order, summary.ID)

		if e, ok := c.entries[summary.ID]; ok {
			if e.summary != summary {
				before := e.message()
				e.summary = summary
				if !sameMessage(before, e.message()) {
					changed = true
				}
			}
			next[summary.ID] = e
			continue
		}

		next[summary.ID] = &entry{summary: summary, state: domain.BodyNone}
		changed = true
	}

	if len(next) != len(c.entries) || !slices.Equal(order, c.order) {
		changed = true
	}

	c.order = order
	c.entries = next
	if changed {
		c.version++
	}
	return changed, nil
}

// AttachBody 挂载已加载的正文，并在本地标记为已读。重复挂载相同正文无副作用。
func (c *MessageCache) AttachBody(sessionID, messageID string, body domain.MessageBody) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(sessionID, messageID)
	if err != nil {
		return err
	}
	if e.body != nil && *e.body == body && e.state == domain.BodyLoaded && e.localSeen {
		return nil
	}

	e.body = &body
	e.state = domain.BodyLoaded
	e.localSeen = true
	c.version++
	return nil
}

// SetBodyState 更新正文加载状态。已加载正文的邮件不会回退到其他状态。
func (c *MessageCache) SetBodyState(sessionID, messageID string, state domain.BodyState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(sessionID, messageID)
	if err != nil {
		return err
	}
	if e.body != nil || e.state == state {
		return nil
	}

	e.state = state
	c.version++
	return nil
}

// Body 返回已加载的正文
func (c *MessageCache) Body(messageID string) (domain.MessageBody, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[messageID]
	if !ok || e.body == nil {
		return domain.MessageBody{}, false
	}
	return *e.body, true
}

// Get 返回单封邮件的副本
func (c *MessageCache) Get(messageID string) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[messageID]
	if !ok {
		return domain.Message{}, false
	}
	return e.message(), true
}

// Messages 按上游顺序返回全部邮件的副本
func (c *MessageCache) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]domain.Message, 0, len(c.order))
	for _, id := range c.order {
		messages = append(messages, c.entries[id].message())
	}
	return messages
}

// Len 返回邮件数量
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *MessageCache) checkSession(sessionID string) error {
	if sessionID == "" || sessionID != c.sessionID {
		return fmt.Errorf("%w: cache bound to session %q, got %q", domain.ErrStaleResult, c.sessionID, sessionID)
	}
	return nil
}

func (c *MessageCache) lookup(sessionID, messageID string) (*entry, error) {
	if err := c.checkSession(sessionID); err != nil {
		return nil, err
	}
	e, ok := c.entries[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	return e, nil
}

func sameMessage(a, b domain.Message) bool {
	return a.MessageSummary == b.MessageSummary && a.BodyState == b.BodyState
}
