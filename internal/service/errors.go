package service

import "errors"

var (
	// ErrSubjectRequired 主题为空
	ErrSubjectRequired = errors.New("subject is required")
	// ErrContentRequired 正文为空
	ErrContentRequired = errors.New("content is required")
	// ErrNoRecipients 收件人为空
	ErrNoRecipients = errors.New("at least one recipient is required")
	// ErrInvalidAddressing 寻址模式与收件人字段不匹配
	ErrInvalidAddressing = errors.New("invalid addressing for mode")
	// ErrRecipientOutOfScope 收件人超出发件部门的可达范围
	ErrRecipientOutOfScope = errors.New("recipient out of sender scope")
	// ErrAccessDenied 操作者无权访问该消息
	ErrAccessDenied = errors.New("access denied")
	// ErrAmbiguousView 自发自收的消息必须指明操作的视图
	ErrAmbiguousView = errors.New("view is ambiguous, specify sender or recipient")
	// ErrAlreadyFinalized 审批已有终态，不可再变更
	ErrAlreadyFinalized = errors.New("approval already finalized")
	// ErrNotApprover 部门不具备审批权限
	ErrNotApprover = errors.New("department has no approval authority")
	// ErrNotTombstoned 消息未被管理员删除，不能物理清除
	ErrNotTombstoned = errors.New("message is not deleted")
	// ErrAdminOnly 仅管理员可执行
	ErrAdminOnly = errors.New("admin privileges required")
)
