package service

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
)

// View 标识删除与恢复作用的视图。
// 自发自收的消息两个视图各自独立，必须显式指明。
type View string

const (
	// ViewAuto 由消息与操作者的关系推断视图
	ViewAuto View = ""
	// ViewSender 发件箱视图
	ViewSender View = "sender"
	// ViewRecipient 收件箱视图
	ViewRecipient View = "recipient"
)

// BlobStore 附件存储接口，物理清除消息时级联删除附件。
type BlobStore interface {
	Remove(blobID string) error
}

// VisibilityService 封装按操作者计算的消息可见性操作。
// 所有删除都是标记行为，只有管理员的物理清除真正移除数据。
type VisibilityService struct {
	store  storage.Store
	blobs  BlobStore
	logger *zap.Logger
}

// NewVisibilityService 创建可见性服务。
func NewVisibilityService(store storage.Store, blobs BlobStore, logger *zap.Logger) *VisibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisibilityService{
		store:  store,
		blobs:  blobs,
		logger: logger,
	}
}

// Inbox 返回操作者收件箱当前可见的消息，新的在前。
func (s *VisibilityService) Inbox(actor domain.Actor) ([]domain.Message, error) {
	messages, err := s.store.ListForRecipient(actor.ID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Message, 0, len(messages))
	for i := range messages {
		if messages[i].VisibleToAsRecipient(actor) {
			visible = append(visible, messages[i])
		}
	}
	return visible, nil
}

// Outbox 返回操作者发件箱当前可见的消息，新的在前。
func (s *VisibilityService) Outbox(actor domain.Actor) ([]domain.Message, error) {
	messages, err := s.store.ListBySender(actor.ID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Message, 0, len(messages))
	for i := range messages {
		if messages[i].VisibleToAsSender(actor) {
			visible = append(visible, messages[i])
		}
	}
	return visible, nil
}

// Trash 返回操作者已删除但仍可恢复的消息。
// 管理员看到的是全部墓碑行。
func (s *VisibilityService) Trash(actor domain.Actor) ([]domain.Message, error) {
	if actor.IsAdmin() {
		return s.store.ListTombstoned()
	}

	seen := make(map[int64]struct{})
	trash := make([]domain.Message, 0)

	sent, err := s.store.ListBySender(actor.ID)
	if err != nil {
		return nil, err
	}
	for i := range sent {
		m := sent[i]
		if m.IsDeleted {
			continue
		}
		if m.IsDeletedBySender {
			trash = append(trash, m)
			seen[m.ID] = struct{}{}
		}
	}

	received, err := s.store.ListForRecipient(actor.ID)
	if err != nil {
		return nil, err
	}
	for i := range received {
		m := received[i]
		if m.IsDeleted {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if m.DeletedByRecipientIDs.Contains(actor.ID) {
			trash = append(trash, m)
		}
	}

	sort.Slice(trash, func(i, j int) bool {
		if trash[i].CreatedAt.Equal(trash[j].CreatedAt) {
			return trash[i].ID > trash[j].ID
		}
		return trash[i].CreatedAt.After(trash[j].CreatedAt)
	})
	return trash, nil
}

// Get 获取单条消息，对操作者不可见时拒绝。
func (s *VisibilityService) Get(actor domain.Actor, messageID int64) (*domain.Message, error) {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if !message.VisibleTo(actor) {
		return nil, ErrAccessDenied
	}
	return message, nil
}

// MarkRead 收件方标记已读，重复标记不改变首次已读时间。
func (s *VisibilityService) MarkRead(actor domain.Actor, messageID int64) (*domain.Message, error) {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if !message.VisibleToAsRecipient(actor) {
		return nil, ErrAccessDenied
	}
	if message.IsRead {
		return message, nil
	}

	now := time.Now().UTC()
	message.IsRead = true
	message.ReadAt = &now
	if err := s.store.UpdateMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// Delete 标记删除。管理员落墓碑，部门只动自己视图的标记。
// 对已删除的消息重复删除是无操作。
func (s *VisibilityService) Delete(actor domain.Actor, messageID int64, view View) (*domain.Message, error) {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}

	if actor.IsAdmin() {
		if message.IsDeleted {
			return message, nil
		}
		message.IsDeleted = true
		if err := s.store.UpdateMessage(message); err != nil {
			return nil, err
		}
		return message, nil
	}

	if message.IsDeleted {
		// 墓碑行对部门不可见
		return nil, ErrAccessDenied
	}

	resolved, err := s.resolveView(actor, message, view)
	if err != nil {
		return nil, err
	}

	switch resolved {
	case ViewSender:
		message.IsDeletedBySender = true
	case ViewRecipient:
		message.DeletedByRecipientIDs = message.DeletedByRecipientIDs.Add(actor.ID)
	}

	if err := s.store.UpdateMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// Restore 撤销标记删除。对未删除的消息重复恢复是无操作。
func (s *VisibilityService) Restore(actor domain.Actor, messageID int64, view View) (*domain.Message, error) {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}

	if actor.IsAdmin() {
		if !message.IsDeleted {
			return message, nil
		}
		message.IsDeleted = false
		if err := s.store.UpdateMessage(message); err != nil {
			return nil, err
		}
		return message, nil
	}

	if message.IsDeleted {
		return nil, ErrAccessDenied
	}

	resolved, err := s.resolveView(actor, message, view)
	if err != nil {
		return nil, err
	}

	switch resolved {
	case ViewSender:
		message.IsDeletedBySender = false
	case ViewRecipient:
		message.DeletedByRecipientIDs = message.DeletedByRecipientIDs.Remove(actor.ID)
	}

	if err := s.store.UpdateMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// PermanentDelete 物理清除消息与附件，仅管理员可执行，
// 且消息必须已落墓碑。附件清除失败不阻断行删除。
func (s *VisibilityService) PermanentDelete(actor domain.Actor, messageID int64) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}

	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if !message.IsDeleted {
		return ErrNotTombstoned
	}

	if s.blobs != nil {
		for _, blobID := range message.AttachmentBlobIDs {
			if err := s.blobs.Remove(blobID); err != nil {
				s.logger.Warn("failed to remove attachment blob",
					zap.Int64("messageID", messageID),
					zap.String("blobID", blobID),
					zap.Error(err))
			}
		}
	}

	return s.store.DeleteMessagePermanently(messageID)
}

// resolveView 确定操作作用的视图。
// 自发自收且未指明视图时拒绝，不猜测操作者意图。
func (s *VisibilityService) resolveView(actor domain.Actor, message *domain.Message, view View) (View, error) {
	isSender := message.SenderID == actor.ID
	isRecipient := message.IsRecipient(actor.ID)

	switch view {
	case ViewSender:
		if !isSender {
			return "", ErrAccessDenied
		}
		return ViewSender, nil
	case ViewRecipient:
		if !isRecipient {
			return "", ErrAccessDenied
		}
		return ViewRecipient, nil
	case ViewAuto:
		switch {
		case isSender && isRecipient:
			return "", ErrAmbiguousView
		case isSender:
			return ViewSender, nil
		case isRecipient:
			return ViewRecipient, nil
		}
		return "", ErrAccessDenied
	}
	return "", ErrAccessDenied
}
