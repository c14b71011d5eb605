package storage

import (
	"errors"
	"time"

	"deptportal/backend/internal/domain"
)

var (
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrDepartmentNotFound 部门不存在
	ErrDepartmentNotFound = errors.New("department not found")
	// ErrDuplicateDraft 客户端草稿ID已被使用（幂等冲突）
	ErrDuplicateDraft = errors.New("client draft id already used")
)

// MessageRepository 定义消息数据存取操作。
// 列表方法只做寻址层面的筛选，按操作者的可见性过滤由业务层完成。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	GetMessage(id int64) (*domain.Message, error)
	GetMessageByDraftID(draftID string) (*domain.Message, error)
	UpdateMessage(message *domain.Message) error
	DeleteMessagePermanently(id int64) error
	ListBySender(senderID int64) ([]domain.Message, error)
	ListForRecipient(departmentID int64) ([]domain.Message, error)
	ListTombstoned() ([]domain.Message, error)
}

// DepartmentRepository 定义部门数据存取操作。
type DepartmentRepository interface {
	SaveDepartment(dept *domain.Department) error
	GetDepartment(id int64) (*domain.Department, error)
	ListDepartments() ([]domain.Department, error)
	ListSubdepartments(parentID int64) ([]domain.Department, error)
}

// RateLimitRepository 定义限流计数操作。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
	GetRateLimit(key string) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MessageRepository
	DepartmentRepository

	Close() error
	Health() error
}
