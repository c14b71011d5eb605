package domain

// NotificationKind 通知类别。
type NotificationKind string

const (
	// NotificationNewMessage 新消息送达
	NotificationNewMessage NotificationKind = "new_message"
	// NotificationApproval 审批结果更新
	NotificationApproval NotificationKind = "approval"
)

// Notification 推送给收件部门的通知载荷。投递是尽力而为，
// 失败由调用方记录日志后丢弃，不影响消息本身。
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	MessageID int64            `json:"messageId,omitempty"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	URL       string           `json:"url,omitempty"`
}
