package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/inbox"
	"tempmail/inboxsync/internal/middleware"
)

// InboxHandler 收件箱处理器，操作当前查看者的同步引擎
type InboxHandler struct {
	log *zap.Logger
}

// NewInboxHandler 创建收件箱处理器
func NewInboxHandler(log *zap.Logger) *InboxHandler {
	return &InboxHandler{log: log}
}

type expandResponse struct {
	MessageID string             `json:"messageId"`
	Body      domain.MessageBody `json:"body"`
}

func engineFrom(c *gin.Context) *inbox.Engine {
	v, _ := middleware.ViewerFrom(c)
	return v.Engine
}

// Get godoc
// @Summary 获取收件箱快照
// @Description 返回当前会话、邮件列表与倒计时，q 参数按发件人或主题筛选
// @Tags Inbox
// @Security ViewerToken
// @Produce json
// @Param q query string false "筛选关键字"
// @Success 200 {object} domain.Snapshot
// @Failure 401 {object} Response
// @Router /api/v1/inbox [get]
func (h *InboxHandler) Get(c *gin.Context) {
	snap := engineFrom(c).Snapshot()
	Success(c, inbox.FilterSnapshot(snap, c.Query("q")))
}

// NewSession godoc
// @Summary 生成新地址
// @Description 申请新的临时邮箱并取代当前会话，原邮件列表被清空
// @Tags Inbox
// @Security ViewerToken
// @Produce json
// @Success 201 {object} domain.Snapshot
// @Failure 409 {object} Response
// @Failure 503 {object} Response
// @Router /api/v1/inbox/session [post]
func (h *InboxHandler) NewSession(c *gin.Context) {
	engine := engineFrom(c)
	if _, err := engine.CreateNewSession(c.Request.Context()); err != nil {
		h.log.Info("create session failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		RespondError(c, err)
		return
	}
	Created(c, engine.Snapshot())
}

// Refresh godoc
// @Summary 立即刷新
// @Tags Inbox
// @Security ViewerToken
// @Produce json
// @Success 200 {object} domain.Snapshot
// @Failure 409 {object} Response
// @Failure 503 {object} Response
// @Router /api/v1/inbox/refresh [post]
func (h *InboxHandler) Refresh(c *gin.Context) {
	engine := engineFrom(c)
	if err := engine.RefreshNow(c.Request.Context()); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, engine.Snapshot())
}

// Expand godoc
// @Summary 加载邮件正文
// @Tags Inbox
// @Security ViewerToken
// @Produce json
// @Param id path string true "邮件ID"
// @Success 200 {object} expandResponse
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /api/v1/inbox/messages/{id}/expand [post]
func (h *InboxHandler) Expand(c *gin.Context) {
	messageID := strings.TrimSpace(c.Param("id"))
	if messageID == "" {
		BadRequest(c, MsgMessageIDEmpty)
		return
	}

	body, err := engineFrom(c).ExpandMessage(c.Request.Context(), messageID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, expandResponse{MessageID: messageID, Body: body})
}
