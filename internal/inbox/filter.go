package inbox

import (
	"strings"

	"tempmail/inboxsync/internal/domain"
)

// Filter 按发件人名称、地址或主题筛选邮件，忽略大小写。查询为空时原样返回。
func Filter(messages []domain.Message, query string) []domain.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return messages
	}

	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if matches(m, q) {
			out = append(out, m)
		}
	}
	return out
}

func matches(m domain.Message, q string) bool {
	for _, field := range []string{m.From.DisplayName(), m.From.Address, m.Subject} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// FilterSnapshot 返回只包含匹配邮件的快照副本，界面状态保持不变
func FilterSnapshot(snap domain.Snapshot, query string) domain.Snapshot {
	snap.Messages = Filter(snap.Messages, query)
	return snap
}
