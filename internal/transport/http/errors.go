package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/viewer"
)

// errorMapping 业务错误到 HTTP 状态码与中文消息的映射
type errorMapping struct {
	target error
	status int
	msg    string
}

// 按顺序匹配，包装后的错误通过 errors.Is 识别
var errorMappings = []errorMapping{
	// 邮箱服务错误
	{domain.ErrAddressConflict, http.StatusConflict, "邮箱地址冲突，请重新生成"},
	{domain.ErrProviderUnavailable, http.StatusServiceUnavailable, "邮箱服务暂时不可用，请稍后重试"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "邮箱凭证已失效，请生成新地址"},
	{domain.ErrNotFound, http.StatusNotFound, MsgMessageNotFound},

	// 会话错误
	{domain.ErrNoSession, http.StatusConflict, "当前没有可用的邮箱"},
	{domain.ErrStaleResult, http.StatusConflict, "请求已被更新的操作取代"},

	// 查看者错误
	{viewer.ErrLimitReached, http.StatusServiceUnavailable, "在线人数已满，请稍后再试"},
	{viewer.ErrNotFound, http.StatusNotFound, "查看者不存在"},
	{viewer.ErrClosed, http.StatusServiceUnavailable, "服务正在停止，请稍后重试"},
	{jwt.ErrExpiredToken, http.StatusUnauthorized, MsgTokenExpired},
	{jwt.ErrInvalidToken, http.StatusUnauthorized, MsgTokenInvalid},
}

// GetErrorMessage 获取错误对应的状态码与中文消息
func GetErrorMessage(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// RespondError 按错误分类写出统一错误响应
func RespondError(c *gin.Context, err error) {
	status, msg := GetErrorMessage(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	Error(c, status, msg)
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgTokenExpired = "查看者令牌已过期，请重新创建"
	MsgTokenInvalid = "无效的查看者令牌"

	// 会话相关
	MsgSessionCreateFailed = "创建邮箱失败"
	MsgViewerCreateFailed  = "创建查看者失败"

	// 邮件相关
	MsgMessageNotFound = "邮件不存在"
	MsgMessageIDEmpty  = "邮件ID不能为空"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
