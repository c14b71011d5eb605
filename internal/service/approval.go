package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/notify"
	"deptportal/backend/internal/storage"
)

// ApprovalService 封装消息审批。
// 审批状态机只有一次迁移: 未审批 -> 通过或驳回，终态不可变更。
type ApprovalService struct {
	store      storage.Store
	dispatcher notify.Dispatcher
	logger     *zap.Logger
}

// NewApprovalService 创建审批服务。
func NewApprovalService(store storage.Store, dispatcher notify.Dispatcher, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Approve 审批通过。
func (s *ApprovalService) Approve(actor domain.Actor, messageID int64) (*domain.Message, error) {
	return s.finalize(actor, messageID, domain.ApprovalApproved)
}

// Reject 审批驳回。
func (s *ApprovalService) Reject(actor domain.Actor, messageID int64) (*domain.Message, error) {
	return s.finalize(actor, messageID, domain.ApprovalRejected)
}

// Pending 返回待操作者审批的可见消息，新的在前。
func (s *ApprovalService) Pending(actor domain.Actor) ([]domain.Message, error) {
	if err := s.checkAuthority(actor); err != nil {
		return nil, err
	}

	// 管理员没有自己的待审队列，代审要指定具体消息
	if actor.IsAdmin() {
		return []domain.Message{}, nil
	}

	messages, err := s.store.ListForRecipient(actor.ID)
	if err != nil {
		return nil, err
	}

	pending := make([]domain.Message, 0)
	for i := range messages {
		m := messages[i]
		if m.ApprovalStatus == domain.ApprovalNone && m.VisibleToAsRecipient(actor) {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// finalize 落一个审批终态。
func (s *ApprovalService) finalize(actor domain.Actor, messageID int64, status domain.ApprovalStatus) (*domain.Message, error) {
	if err := s.checkAuthority(actor); err != nil {
		return nil, err
	}

	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	// 管理员可以代为落审批，部门必须是可见的收件方
	if actor.IsAdmin() {
		if message.IsDeleted {
			return nil, ErrAccessDenied
		}
	} else if !message.VisibleToAsRecipient(actor) {
		return nil, ErrAccessDenied
	}
	if message.ApprovalStatus != domain.ApprovalNone {
		return nil, ErrAlreadyFinalized
	}

	now := time.Now().UTC()
	message.ApprovalStatus = status
	message.ApprovedByDepartmentID = &actor.ID
	message.ApprovedAt = &now

	if err := s.store.UpdateMessage(message); err != nil {
		return nil, err
	}

	s.notifySender(message, status)

	return message, nil
}

// checkAuthority 校验操作者具备审批权限。
func (s *ApprovalService) checkAuthority(actor domain.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	dept, err := s.store.GetDepartment(actor.ID)
	if err != nil {
		return err
	}
	if !dept.HasApprovalAuthority {
		return ErrNotApprover
	}
	return nil
}

// notifySender 把审批结果通知发件部门，失败只记录。
func (s *ApprovalService) notifySender(message *domain.Message, status domain.ApprovalStatus) {
	if s.dispatcher == nil {
		return
	}

	body := "已通过审批"
	if status == domain.ApprovalRejected {
		body = "已被驳回"
	}

	notification := &domain.Notification{
		Kind:      domain.NotificationApproval,
		MessageID: message.ID,
		Title:     message.Subject,
		Body:      fmt.Sprintf("消息「%s」%s", message.Subject, body),
		URL:       fmt.Sprintf("/messages/%d", message.ID),
	}

	if err := s.dispatcher.Dispatch(message.SenderID, notification); err != nil {
		s.logger.Warn("approval notification dispatch failed",
			zap.Int64("messageID", message.ID),
			zap.Int64("departmentID", message.SenderID),
			zap.Error(err))
	}
}
