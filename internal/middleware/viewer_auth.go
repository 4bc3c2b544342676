package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/viewer"
)

const viewerKey = "viewer"

// ViewerAuth 查看者令牌认证中间件
type ViewerAuth struct {
	tokens  *jwt.Manager
	viewers *viewer.Registry
	log     *zap.Logger
}

// NewViewerAuth 创建查看者认证中间件
func NewViewerAuth(tokens *jwt.Manager, viewers *viewer.Registry, log *zap.Logger) *ViewerAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &ViewerAuth{
		tokens:  tokens,
		viewers: viewers,
		log:     log.With(zap.String("component", "viewer_auth")),
	}
}

// RequireViewer 要求有效的查看者令牌，并把查看者放入上下文
func (va *ViewerAuth) RequireViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "缺少查看者令牌")
			return
		}

		claims, err := va.tokens.Validate(token)
		if err != nil {
			va.log.Warn("invalid viewer token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			msg := "无效的查看者令牌"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "查看者令牌已过期，请重新创建"
			}
			abort(c, http.StatusUnauthorized, msg)
			return
		}

		v, err := va.viewers.Get(claims.ViewerID)
		if err != nil {
			va.log.Info("viewer not found", zap.String("viewer_id", claims.ViewerID))
			abort(c, http.StatusUnauthorized, "查看者不存在或已被回收")
			return
		}

		c.Set(viewerKey, v)
		c.Next()
	}
}

// ViewerFrom 返回 RequireViewer 放入上下文的查看者
func ViewerFrom(c *gin.Context) (*viewer.Viewer, bool) {
	v, ok := c.Get(viewerKey)
	if !ok {
		return nil, false
	}
	vw, ok := v.(*viewer.Viewer)
	return vw, ok
}

// ExtractToken 依次从 Authorization、X-Viewer-Token 与 token 参数提取令牌
func ExtractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	if token := c.GetHeader("X-Viewer-Token"); token != "" {
		return token
	}
	return c.Query("token")
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}
