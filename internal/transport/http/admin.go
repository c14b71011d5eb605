package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/middleware"
	"deptportal/backend/internal/monitoring"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
)

// AdminHandler 处理管理端 HTTP 请求
type AdminHandler struct {
	departments *service.DepartmentService
	visibility  *service.VisibilityService
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(
	departments *service.DepartmentService,
	visibility *service.VisibilityService,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		departments: departments,
		visibility:  visibility,
		metrics:     metrics,
		log:         logger,
	}
}

type createDepartmentRequest struct {
	Name                 string `json:"name" binding:"required"`
	ParentID             *int64 `json:"parentId"`
	HasApprovalAuthority bool   `json:"hasApprovalAuthority"`
	Secret               string `json:"secret" binding:"required"`
}

// CreateDepartment 新建部门或子部门
func (h *AdminHandler) CreateDepartment(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req createDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	dept, err := h.departments.Create(actor, service.CreateDepartmentInput{
		Name:                 req.Name,
		ParentID:             req.ParentID,
		HasApprovalAuthority: req.HasApprovalAuthority,
		Secret:               req.Secret,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminOnly):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNameRequired),
			errors.Is(err, service.ErrSecretRequired),
			errors.Is(err, service.ErrNestedSubdepartment):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrParentNotFound):
			NotFound(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to create department", zap.Error(err))
			InternalError(c, MsgDepartmentCreateFailed)
		}
		return
	}

	h.log.Info("department created",
		zap.Int64("department_id", dept.ID),
		zap.String("name", dept.Name))

	Created(c, dept)
}

// ListDepartments 全部部门列表
func (h *AdminHandler) ListDepartments(c *gin.Context) {
	depts, err := h.departments.List()
	if err != nil {
		h.log.Error("failed to list departments", zap.Error(err))
		InternalError(c, MsgDepartmentListFailed)
		return
	}
	Success(c, depts)
}

// GetDepartment 部门详情
func (h *AdminHandler) GetDepartment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, MsgInvalidDeptID)
		return
	}

	dept, err := h.departments.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDepartmentNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.log.Error("failed to get department", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, dept)
}

// ListSubdepartments 子部门列表
func (h *AdminHandler) ListSubdepartments(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, MsgInvalidDeptID)
		return
	}

	depts, err := h.departments.ListSubdepartments(id)
	if err != nil {
		h.log.Error("failed to list subdepartments", zap.Error(err))
		InternalError(c, MsgDepartmentListFailed)
		return
	}
	Success(c, depts)
}

// PurgeMessage 物理清除已墓碑的消息
func (h *AdminHandler) PurgeMessage(c *gin.Context) {
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

	if err := h.visibility.PermanentDelete(actor, messageID); err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrAdminOnly):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNotTombstoned):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to purge message", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.MessagesPurged.Inc()
	}

	NoContent(c)
}
