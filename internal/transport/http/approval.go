package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/middleware"
	"deptportal/backend/internal/monitoring"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
)

// ApprovalHandler 处理审批相关的 HTTP 请求
type ApprovalHandler struct {
	approvals *service.ApprovalService
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewApprovalHandler 创建审批处理器
func NewApprovalHandler(approvals *service.ApprovalService, metrics *monitoring.Metrics, logger *zap.Logger) *ApprovalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalHandler{
		approvals: approvals,
		metrics:   metrics,
		log:       logger,
	}
}

// Pending 待审批列表
func (h *ApprovalHandler) Pending(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	messages, err := h.approvals.Pending(actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, messages)
}

// Approve 审批通过
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.finalize(c, true)
}

// Reject 审批驳回
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.finalize(c, false)
}

func (h *ApprovalHandler) finalize(c *gin.Context, approve bool) {
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

	var message interface{}
	if approve {
		message, err = h.approvals.Approve(actor, messageID)
	} else {
		message, err = h.approvals.Reject(actor, messageID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.metrics != nil {
		outcome := "approved"
		if !approve {
			outcome = "rejected"
		}
		h.metrics.ApprovalsTotal.WithLabelValues(outcome).Inc()
	}

	Success(c, message)
}

func (h *ApprovalHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrDepartmentNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrAccessDenied):
		Forbidden(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrNotApprover):
		Forbidden(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrAlreadyFinalized):
		Conflict(c, GetErrorMessage(err))
	default:
		h.log.Error("approval operation failed", zap.Error(err))
		InternalError(c, MsgInternalError)
	}
}
