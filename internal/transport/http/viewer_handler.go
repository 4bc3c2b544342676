package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/middleware"
	"tempmail/inboxsync/internal/viewer"
)

// ViewerHandler 查看者生命周期处理器
type ViewerHandler struct {
	viewers *viewer.Registry
	tokens  *jwt.Manager
	log     *zap.Logger
}

// NewViewerHandler 创建查看者处理器
func NewViewerHandler(viewers *viewer.Registry, tokens *jwt.Manager, log *zap.Logger) *ViewerHandler {
	return &ViewerHandler{viewers: viewers, tokens: tokens, log: log}
}

type viewerResponse struct {
	ViewerID  string          `json:"viewerId"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

// Create godoc
// @Summary 创建查看者
// @Description 注册一个新的收件箱查看者并立即申请临时邮箱
// @Tags Viewers
// @Produce json
// @Success 201 {object} viewerResponse
// @Failure 503 {object} Response
// @Router /api/v1/viewers [post]
func (h *ViewerHandler) Create(c *gin.Context) {
	v, err := h.viewers.Create()
	if v == nil {
		RespondError(c, err)
		return
	}
	if err != nil {
		// 首个邮箱申请失败时查看者仍然可用，错误体现在快照里
		h.log.Warn("viewer created without session", zap.String("viewer_id", v.ID), zap.Error(err))
	}

	token, err := h.tokens.Issue(v.ID)
	if err != nil {
		h.log.Error("failed to issue viewer token", zap.Error(err))
		_ = h.viewers.Remove(v.ID)
		Error(c, CodeInternalError, MsgViewerCreateFailed)
		return
	}

	Created(c, viewerResponse{
		ViewerID:  v.ID,
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Snapshot:  v.Engine.Snapshot(),
	})
}

// Delete godoc
// @Summary 注销当前查看者
// @Tags Viewers
// @Security ViewerToken
// @Success 200 {object} Response
// @Router /api/v1/viewers/current [delete]
func (h *ViewerHandler) Delete(c *gin.Context) {
	v, _ := middleware.ViewerFrom(c)
	if err := h.viewers.Remove(v.ID); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, nil)
}
