package domain

// PollStatus 轮询调度器对外暴露的状态
type PollStatus string

const (
	PollIdle     PollStatus = "idle"
	PollFetching PollStatus = "fetching"
	PollDegraded PollStatus = "degraded"
)

// DisplayState 展示层需要区分的界面状态
type DisplayState string

const (
	DisplayNoSession DisplayState = "no_session"
	DisplayEmpty     DisplayState = "empty"
	DisplayReady     DisplayState = "ready"
	DisplayDegraded  DisplayState = "degraded"
	DisplayExpired   DisplayState = "expired"
)

// ResolveDisplayState 按优先级推导界面状态：
// 无会话 > 已过期 > 连接降级 > 空收件箱/有邮件。
func ResolveDisplayState(hasSession, expired bool, status PollStatus, messageCount int) DisplayState {
	switch {
	case !hasSession:
		return DisplayNoSession
	case expired:
		return DisplayExpired
	case status == PollDegraded:
		return DisplayDegraded
	case messageCount == 0:
		return DisplayEmpty
	default:
		return DisplayReady
	}
}

// Snapshot 收件箱核心状态的只读快照，供展示层使用。
type Snapshot struct {
	Session             *SessionView `json:"session"`
	Messages            []Message    `json:"messages"`
	RemainingSeconds    int          `json:"remainingSeconds"`
	PollStatus          PollStatus   `json:"pollStatus"`
	State               DisplayState `json:"state"`
	Creating            bool         `json:"creating"`
	LastError           string       `json:"lastError,omitempty"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Version             uint64       `json:"version"`
}
