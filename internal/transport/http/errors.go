package httptransport

import (
	"deptportal/backend/internal/auth"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 消息错误
	service.ErrSubjectRequired:     "主题不能为空",
	service.ErrContentRequired:     "正文不能为空",
	service.ErrNoRecipients:        "请至少选择一个收件部门",
	service.ErrInvalidAddressing:   "寻址模式与收件人不匹配",
	service.ErrRecipientOutOfScope: "收件部门超出可发送范围",
	service.ErrAccessDenied:        "无权访问该消息",
	service.ErrAmbiguousView:       "请指明操作的是发件箱还是收件箱",
	storage.ErrMessageNotFound:     "消息不存在",
	storage.ErrDuplicateDraft:      "该草稿已经提交过",

	// 审批错误
	service.ErrAlreadyFinalized: "审批结果已确定，不能再变更",
	service.ErrNotApprover:      "该部门没有审批权限",

	// 部门错误
	service.ErrNameRequired:        "部门名称不能为空",
	service.ErrSecretRequired:      "登录口令不能为空",
	service.ErrParentNotFound:      "上级部门不存在",
	service.ErrNestedSubdepartment: "子部门下不能再设子部门",
	storage.ErrDepartmentNotFound:  "部门不存在",

	// 管理错误
	service.ErrAdminOnly:     "仅管理员可执行该操作",
	service.ErrNotTombstoned: "消息未被管理员删除，不能物理清除",

	// 认证错误
	auth.ErrInvalidCredentials: "部门编号或口令错误",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidMessageID = "消息编号格式错误"
	MsgInvalidDeptID    = "部门编号格式错误"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "部门编号或口令错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"

	// 消息相关
	MsgMessageCreateFailed  = "发送消息失败"
	MsgMessageNotFound      = "消息不存在"
	MsgMessageListFailed    = "获取消息列表失败"
	MsgMessageReadFailed    = "标记已读失败"
	MsgMessageDeleteFailed  = "删除消息失败"
	MsgMessageRestoreFailed = "恢复消息失败"

	// 附件相关
	MsgAttachmentNotFound     = "附件不存在"
	MsgAttachmentUploadFailed = "上传附件失败"
	MsgAttachmentTooLarge     = "附件超出大小限制"

	// 部门相关
	MsgDepartmentListFailed   = "获取部门列表失败"
	MsgDepartmentCreateFailed = "创建部门失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
