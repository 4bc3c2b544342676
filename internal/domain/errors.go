package domain

import "errors"

// 上游邮箱服务错误分类
var (
	// ErrProviderUnavailable 网络或服务故障，可重试
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrUnauthorized 凭证失效，需要新建会话
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAddressConflict 创建邮箱时地址冲突，可重新申请
	ErrAddressConflict = errors.New("address conflict")
	// ErrNotFound 邮件已不存在，对该邮件不可重试
	ErrNotFound = errors.New("not found")
)

var (
	// ErrStaleResult 结果属于已被取代的请求或会话，已丢弃
	ErrStaleResult = errors.New("stale result discarded")
	// ErrNoSession 当前没有可用的邮箱会话
	ErrNoSession = errors.New("no current session")
)

// Retryable 判断错误是否可以通过重试恢复。
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrAddressConflict)
}

// ErrorKind 返回错误所属分类的简短名称，用于日志与指标标签。
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAddressConflict):
		return "address_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStaleResult):
		return "stale"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	default:
		return "unknown"
	}
}
