package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AddressingMode 寻址模式。广播是显式取值，绝不由收件人为空推断。
type AddressingMode string

const (
	// AddressingSingle 单收件部门
	AddressingSingle AddressingMode = "single"
	// AddressingMulti 多收件部门
	AddressingMulti AddressingMode = "multi"
	// AddressingBroadcast 广播至全部部门
	AddressingBroadcast AddressingMode = "broadcast"
)

// ApprovalStatus 审批状态。空串表示未审批。
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Int64List 以 JSON 形式存储的 int64 数组，用于收件人集合等字段。
type Int64List []int64

// Value 实现 driver.Valuer。
func (l Int64List) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (l *Int64List) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for Int64List: %T", value)
	}
}

// Contains 判断列表是否包含指定值。
func (l Int64List) Contains(id int64) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Add 幂等地加入一个值，已存在时原样返回。
func (l Int64List) Add(id int64) Int64List {
	if l.Contains(id) {
		return l
	}
	return append(l, id)
}

// Remove 幂等地移除一个值，不存在时原样返回。
func (l Int64List) Remove(id int64) Int64List {
	for i, v := range l {
		if v == id {
			return append(l[:i:i], l[i+1:]...)
		}
	}
	return l
}

// StringList 以 JSON 形式存储的字符串数组，用于附件 blob 引用。
type StringList []string

// Value 实现 driver.Valuer。
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// Message 服务器端权威消息行。一次分发只产生一行，
// 已读、删除、审批状态均挂在这一行上，按操作者各自独立。
type Message struct {
	ID             int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	ClientDraftID  string         `json:"clientDraftId,omitempty" gorm:"type:varchar(36);uniqueIndex"` // 客户端草稿ID，重试去重
	Subject        string         `json:"subject" gorm:"type:varchar(500);not null"`
	Content        string         `json:"content" gorm:"type:text"`
	SenderID       int64          `json:"senderId" gorm:"index;not null"`
	AddressingMode AddressingMode `json:"addressingMode" gorm:"type:varchar(16);not null"`
	RecipientID    *int64         `json:"recipientId,omitempty" gorm:"index"` // 单收件模式
	RecipientIDs   Int64List      `json:"recipientIds,omitempty" gorm:"type:text"`
	DocumentNumber string         `json:"documentNumber,omitempty" gorm:"type:varchar(100)"`
	DocumentTypeID *int64         `json:"documentTypeId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`

	IsRead bool       `json:"isRead" gorm:"default:false"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	// 可见性标记。IsDeleted 是管理员级墓碑，覆盖其余标记。
	IsDeleted             bool      `json:"isDeleted" gorm:"default:false;index"`
	IsDeletedBySender     bool      `json:"isDeletedBySender" gorm:"default:false"`
	DeletedByRecipientIDs Int64List `json:"deletedByRecipientIds,omitempty" gorm:"type:text"`

	ApprovalStatus         ApprovalStatus `json:"approvalStatus,omitempty" gorm:"type:varchar(16);default:''"`
	ApprovedByDepartmentID *int64         `json:"approvedByDepartmentId,omitempty"`
	ApprovedAt             *time.Time     `json:"approvedAt,omitempty"`

	// 转发与回复。转发总是产生新行，原行不变。
	OriginalSenderID *int64 `json:"originalSenderId,omitempty"`
	ForwardedByID    *int64 `json:"forwardedById,omitempty"`
	ReplyToID        *int64 `json:"replyToId,omitempty"`

	AttachmentBlobIDs StringList `json:"attachmentBlobIds,omitempty" gorm:"type:text"`
}

// IsRecipient 判断部门是否为该消息的已解析收件人。
// 广播模式下所有部门都是收件人。
func (m *Message) IsRecipient(departmentID int64) bool {
	switch m.AddressingMode {
	case AddressingSingle:
		return m.RecipientID != nil && *m.RecipientID == departmentID
	case AddressingMulti:
		return m.RecipientIDs.Contains(departmentID)
	case AddressingBroadcast:
		return true
	}
	return false
}

// VisibleTo 计算操作者当前是否可见该消息。
// 规则按优先级：管理员墓碑 > 发件人标记 > 收件人标记。
// 自发自收时两个标记各自独立生效，任一视图未删即可见。
func (m *Message) VisibleTo(a Actor) bool {
	if m.IsDeleted {
		return a.IsAdmin()
	}
	if a.IsAdmin() {
		return true
	}
	sender := a.ID == m.SenderID
	recipient := m.IsRecipient(a.ID)
	switch {
	case sender && recipient:
		return !m.IsDeletedBySender || !m.DeletedByRecipientIDs.Contains(a.ID)
	case sender:
		return !m.IsDeletedBySender
	case recipient:
		return !m.DeletedByRecipientIDs.Contains(a.ID)
	}
	return false
}

// VisibleToAsSender 发件箱视图可见性。
func (m *Message) VisibleToAsSender(a Actor) bool {
	if m.IsDeleted {
		return false
	}
	return a.ID == m.SenderID && !m.IsDeletedBySender
}

// VisibleToAsRecipient 收件箱视图可见性。
func (m *Message) VisibleToAsRecipient(a Actor) bool {
	if m.IsDeleted {
		return false
	}
	return m.IsRecipient(a.ID) && !m.DeletedByRecipientIDs.Contains(a.ID)
}
