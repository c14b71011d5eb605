package memory

import (
	"sort"
	"sync"
	"time"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
)

// Store 使用内存保存消息与部门数据，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	messages    map[int64]*domain.Message
	byDraftID   map[string]int64 // clientDraftID -> messageID
	departments map[int64]*domain.Department
	byParent    map[int64][]int64 // parentID -> 子部门ID列表
	nextMsgID   int64
	nextDeptID  int64

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:          make(map[int64]*domain.Message),
		byDraftID:         make(map[string]int64),
		departments:       make(map[int64]*domain.Department),
		byParent:          make(map[int64][]int64),
		nextMsgID:         1,
		nextDeptID:        1,
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

// ========== Message Repository ==========

// SaveMessage 保存一条新消息，ID 为零时自动分配。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message.ClientDraftID != "" {
		if _, exists := s.byDraftID[message.ClientDraftID]; exists {
			return storage.ErrDuplicateDraft
		}
	}

	if message.ID == 0 {
		message.ID = s.nextMsgID
		s.nextMsgID++
	} else if message.ID >= s.nextMsgID {
		s.nextMsgID = message.ID + 1
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	stored := *message
	s.messages[message.ID] = &stored
	if message.ClientDraftID != "" {
		s.byDraftID[message.ClientDraftID] = message.ID
	}
	return nil
}

// GetMessage 根据 ID 获取消息的副本。
func (s *Store) GetMessage(id int64) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

// GetMessageByDraftID 根据客户端草稿 ID 获取消息。
func (s *Store) GetMessageByDraftID(draftID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDraftID[draftID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

// UpdateMessage 整行覆盖更新消息。
func (s *Store) UpdateMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; !ok {
		return storage.ErrMessageNotFound
	}
	stored := *message
	s.messages[message.ID] = &stored
	return nil
}

// DeleteMessagePermanently 物理删除消息行。
func (s *Store) DeleteMessagePermanently(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	if msg.ClientDraftID != "" {
		delete(s.byDraftID, msg.ClientDraftID)
	}
	delete(s.messages, id)
	return nil
}

// ListBySender 返回指定发件部门的全部消息，新的在前。
func (s *Store) ListBySender(senderID int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.SenderID == senderID {
			result = append(result, *msg)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// ListForRecipient 返回按寻址命中指定收件部门的全部消息，新的在前。
// 广播消息对所有部门命中。
func (s *Store) ListForRecipient(departmentID int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.IsRecipient(departmentID) {
			result = append(result, *msg)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// ListTombstoned 返回已被管理员墓碑标记的全部消息，新的在前。
func (s *Store) ListTombstoned() ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.IsDeleted {
			result = append(result, *msg)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(messages []domain.Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
}

// ========== Department Repository ==========

// SaveDepartment 保存部门信息，ID 为零时自动分配。
func (s *Store) SaveDepartment(dept *domain.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dept.ID == 0 {
		dept.ID = s.nextDeptID
		s.nextDeptID++
	} else if dept.ID >= s.nextDeptID {
		s.nextDeptID = dept.ID + 1
	}
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = time.Now().UTC()
	}

	// 更新父子索引
	if old, ok := s.departments[dept.ID]; ok && old.ParentID != nil {
		s.removeChildLocked(*old.ParentID, dept.ID)
	}
	stored := *dept
	s.departments[dept.ID] = &stored
	if dept.ParentID != nil {
		s.byParent[*dept.ParentID] = append(s.byParent[*dept.ParentID], dept.ID)
	}
	return nil
}

// GetDepartment 根据 ID 获取部门。
func (s *Store) GetDepartment(id int64) (*domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dept, ok := s.departments[id]
	if !ok {
		return nil, storage.ErrDepartmentNotFound
	}
	copied := *dept
	return &copied, nil
}

// ListDepartments 返回全部部门的快照。
func (s *Store) ListDepartments() ([]domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Department, 0, len(s.departments))
	for _, dept := range s.departments {
		result = append(result, *dept)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListSubdepartments 返回指定部门的全部子部门。
func (s *Store) ListSubdepartments(parentID int64) ([]domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byParent[parentID]
	result := make([]domain.Department, 0, len(ids))
	for _, id := range ids {
		if dept, ok := s.departments[id]; ok {
			result = append(result, *dept)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) removeChildLocked(parentID, childID int64) {
	children := s.byParent[parentID]
	for i, id := range children {
		if id == childID {
			s.byParent[parentID] = append(children[:i], children[i+1:]...)
			return
		}
	}
}

// ========== 限流 ==========

// IncrementRateLimit 增加限流计数。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// 每5分钟清理一次过期条目
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		s.rateLimits[key] = entry
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 获取限流计数。
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.rateLimits[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// ========== 工具方法 ==========

// Close 关闭存储连接。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查。
func (s *Store) Health() error {
	return nil
}
