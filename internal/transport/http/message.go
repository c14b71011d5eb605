package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/middleware"
	"deptportal/backend/internal/monitoring"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
)

// MessageHandler 处理消息相关的 HTTP 请求
type MessageHandler struct {
	distribution *service.DistributionService
	visibility   *service.VisibilityService
	metrics      *monitoring.Metrics
	log          *zap.Logger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(
	distribution *service.DistributionService,
	visibility *service.VisibilityService,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		distribution: distribution,
		visibility:   visibility,
		metrics:      metrics,
		log:          logger,
	}
}

type createMessageRequest struct {
	ClientDraftID     string   `json:"clientDraftId"`
	Subject           string   `json:"subject" binding:"required"`
	Content           string   `json:"content" binding:"required"`
	AddressingMode    string   `json:"addressingMode" binding:"required"`
	RecipientID       *int64   `json:"recipientId"`
	RecipientIDs      []int64  `json:"recipientIds"`
	DocumentNumber    string   `json:"documentNumber"`
	DocumentTypeID    *int64   `json:"documentTypeId"`
	AttachmentBlobIDs []string `json:"attachmentBlobIds"`
}

type replyRequest struct {
	Content string `json:"content" binding:"required"`
}

// Create 发送新消息。携带 clientDraftId 的重复提交是幂等的。
func (h *MessageHandler) Create(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.distribution.Create(actor, service.CreateMessageInput{
		ClientDraftID:     req.ClientDraftID,
		Subject:           req.Subject,
		Content:           req.Content,
		AddressingMode:    domain.AddressingMode(req.AddressingMode),
		RecipientID:       req.RecipientID,
		RecipientIDs:      req.RecipientIDs,
		DocumentNumber:    req.DocumentNumber,
		DocumentTypeID:    req.DocumentTypeID,
		AttachmentBlobIDs: req.AttachmentBlobIDs,
	})
	if err != nil {
		h.respondError(c, err, MsgMessageCreateFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesCreated.Inc()
		if req.ClientDraftID != "" {
			h.metrics.DraftsSynced.Inc()
		}
	}

	Created(c, message)
}

// Forward 转发消息
func (h *MessageHandler) Forward(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.distribution.Forward(actor, messageID, service.CreateMessageInput{
		ClientDraftID:  req.ClientDraftID,
		Content:        req.Content,
		AddressingMode: domain.AddressingMode(req.AddressingMode),
		RecipientID:    req.RecipientID,
		RecipientIDs:   req.RecipientIDs,
	})
	if err != nil {
		h.respondError(c, err, MsgMessageCreateFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesForwarded.Inc()
	}

	Created(c, message)
}

// Reply 回复消息
func (h *MessageHandler) Reply(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.distribution.Reply(actor, messageID, req.Content)
	if err != nil {
		h.respondError(c, err, MsgMessageCreateFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesReplied.Inc()
	}

	Created(c, message)
}

// Inbox 收件箱列表
func (h *MessageHandler) Inbox(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messages, err := h.visibility.Inbox(actor)
	if err != nil {
		h.log.Error("failed to list inbox", zap.Error(err))
		InternalError(c, MsgMessageListFailed)
		return
	}
	Success(c, messages)
}

// Outbox 发件箱列表
func (h *MessageHandler) Outbox(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messages, err := h.visibility.Outbox(actor)
	if err != nil {
		h.log.Error("failed to list outbox", zap.Error(err))
		InternalError(c, MsgMessageListFailed)
		return
	}
	Success(c, messages)
}

// Trash 已删除列表
func (h *MessageHandler) Trash(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messages, err := h.visibility.Trash(actor)
	if err != nil {
		h.log.Error("failed to list trash", zap.Error(err))
		InternalError(c, MsgMessageListFailed)
		return
	}
	Success(c, messages)
}

// Get 消息详情
func (h *MessageHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	message, err := h.visibility.Get(actor, messageID)
	if err != nil {
		h.respondError(c, err, MsgInternalError)
		return
	}
	Success(c, message)
}

// MarkRead 标记已读
func (h *MessageHandler) MarkRead(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	message, err := h.visibility.MarkRead(actor, messageID)
	if err != nil {
		h.respondError(c, err, MsgMessageReadFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesRead.Inc()
	}

	Success(c, message)
}

// Delete 标记删除。view 参数指明作用的视图: sender / recipient。
func (h *MessageHandler) Delete(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	view := service.View(c.Query("view"))
	message, err := h.visibility.Delete(actor, messageID, view)
	if err != nil {
		h.respondError(c, err, MsgMessageDeleteFailed)
		return
	}

	if h.metrics != nil {
		label := string(view)
		if actor.IsAdmin() {
			label = "admin"
		}
		if label == "" {
			label = "auto"
		}
		h.metrics.MessagesDeleted.WithLabelValues(label).Inc()
	}

	Success(c, message)
}

// Restore 撤销标记删除
func (h *MessageHandler) Restore(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messageID, err := parseMessageID(c)
	if err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	view := service.View(c.Query("view"))
	message, err := h.visibility.Restore(actor, messageID, view)
	if err != nil {
		h.respondError(c, err, MsgMessageRestoreFailed)
		return
	}
	Success(c, message)
}

// respondError 把业务错误映射为 HTTP 响应
func (h *MessageHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrDepartmentNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrAccessDenied),
		errors.Is(err, service.ErrAdminOnly):
		Forbidden(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrSubjectRequired),
		errors.Is(err, service.ErrContentRequired),
		errors.Is(err, service.ErrNoRecipients),
		errors.Is(err, service.ErrInvalidAddressing),
		errors.Is(err, service.ErrRecipientOutOfScope),
		errors.Is(err, service.ErrAmbiguousView):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrAlreadyFinalized),
		errors.Is(err, storage.ErrDuplicateDraft):
		Conflict(c, GetErrorMessage(err))
	default:
		h.log.Error("message operation failed", zap.Error(err))
		InternalError(c, fallback)
	}
}

func parseMessageID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
