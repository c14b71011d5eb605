package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/notify"
	"deptportal/backend/internal/pool"
	"deptportal/backend/internal/storage"
)

// DistributionService 封装消息的创建与分发。
// 一次发送只产生一行权威记录，通知投递在行落库后异步进行。
type DistributionService struct {
	store      storage.Store
	dispatcher notify.Dispatcher
	workers    *pool.WorkerPool
	logger     *zap.Logger
}

// NewDistributionService 创建消息分发服务。
func NewDistributionService(store storage.Store, dispatcher notify.Dispatcher, workers *pool.WorkerPool, logger *zap.Logger) *DistributionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributionService{
		store:      store,
		dispatcher: dispatcher,
		workers:    workers,
		logger:     logger,
	}
}

// CreateMessageInput 定义发送消息的输入。
type CreateMessageInput struct {
	ClientDraftID     string
	Subject           string
	Content           string
	AddressingMode    domain.AddressingMode
	RecipientID       *int64
	RecipientIDs      []int64
	DocumentNumber    string
	DocumentTypeID    *int64
	AttachmentBlobIDs []string
}

// Create 发送一条新消息。
// 携带 ClientDraftID 的重复提交返回已存在的行，保证恰好一次落库。
func (s *DistributionService) Create(sender domain.Actor, input CreateMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return nil, ErrSubjectRequired
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrContentRequired
	}

	if err := s.validateAddressing(input.AddressingMode, input.RecipientID, input.RecipientIDs); err != nil {
		return nil, err
	}

	// 重复提交检查
	if input.ClientDraftID != "" {
		if existing, err := s.store.GetMessageByDraftID(input.ClientDraftID); err == nil {
			if existing.SenderID != sender.ID {
				return nil, ErrAccessDenied
			}
			return existing, nil
		} else if !errors.Is(err, storage.ErrMessageNotFound) {
			return nil, err
		}
	}

	recipients, err := s.resolveRecipients(input.AddressingMode, input.RecipientID, input.RecipientIDs)
	if err != nil {
		return nil, err
	}

	// 入库前完成越权检查，不产生半成品行
	for _, recipientID := range recipients {
		if err := s.checkScope(sender, recipientID); err != nil {
			return nil, err
		}
	}

	message := &domain.Message{
		ClientDraftID:     input.ClientDraftID,
		Subject:           input.Subject,
		Content:           input.Content,
		SenderID:          sender.ID,
		AddressingMode:    input.AddressingMode,
		RecipientID:       input.RecipientID,
		RecipientIDs:      domain.Int64List(input.RecipientIDs),
		DocumentNumber:    input.DocumentNumber,
		DocumentTypeID:    input.DocumentTypeID,
		AttachmentBlobIDs: domain.StringList(input.AttachmentBlobIDs),
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.SaveMessage(message); err != nil {
		if errors.Is(err, storage.ErrDuplicateDraft) {
			// 并发重试撞上唯一索引，返回已落库的行
			if existing, getErr := s.store.GetMessageByDraftID(input.ClientDraftID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.fanOutNotifications(message, recipients)

	return message, nil
}

// Forward 转发消息，总是产生新行，原行不变。
// 原始发件人沿转发链保持不变。
func (s *DistributionService) Forward(actor domain.Actor, messageID int64, input CreateMessageInput) (*domain.Message, error) {
	original, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if !original.VisibleTo(actor) {
		return nil, ErrAccessDenied
	}

	if err := s.validateAddressing(input.AddressingMode, input.RecipientID, input.RecipientIDs); err != nil {
		return nil, err
	}
	recipients, err := s.resolveRecipients(input.AddressingMode, input.RecipientID, input.RecipientIDs)
	if err != nil {
		return nil, err
	}
	for _, recipientID := range recipients {
		if err := s.checkScope(actor, recipientID); err != nil {
			return nil, err
		}
	}

	originalSenderID := original.SenderID
	if original.OriginalSenderID != nil {
		originalSenderID = *original.OriginalSenderID
	}

	subject := original.Subject
	if !strings.HasPrefix(subject, "转发:") {
		subject = "转发: " + subject
	}

	content := input.Content
	if strings.TrimSpace(content) == "" {
		content = original.Content
	}

	forwarded := &domain.Message{
		ClientDraftID:     input.ClientDraftID,
		Subject:           subject,
		Content:           content,
		SenderID:          actor.ID,
		AddressingMode:    input.AddressingMode,
		RecipientID:       input.RecipientID,
		RecipientIDs:      domain.Int64List(input.RecipientIDs),
		DocumentNumber:    original.DocumentNumber,
		DocumentTypeID:    original.DocumentTypeID,
		AttachmentBlobIDs: original.AttachmentBlobIDs,
		OriginalSenderID:  &originalSenderID,
		ForwardedByID:     &actor.ID,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.SaveMessage(forwarded); err != nil {
		return nil, err
	}

	s.fanOutNotifications(forwarded, recipients)

	return forwarded, nil
}

// Reply 回复消息，单收件寻址到原发件部门。
func (s *DistributionService) Reply(actor domain.Actor, messageID int64, content string) (*domain.Message, error) {
	original, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if !original.VisibleTo(actor) {
		return nil, ErrAccessDenied
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrContentRequired
	}

	if err := s.checkScope(actor, original.SenderID); err != nil {
		return nil, err
	}

	subject := original.Subject
	if !strings.HasPrefix(subject, "回复:") {
		subject = "回复: " + subject
	}

	recipientID := original.SenderID
	reply := &domain.Message{
		Subject:        subject,
		Content:        content,
		SenderID:       actor.ID,
		AddressingMode: domain.AddressingSingle,
		RecipientID:    &recipientID,
		ReplyToID:      &original.ID,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.SaveMessage(reply); err != nil {
		return nil, err
	}

	s.fanOutNotifications(reply, []int64{recipientID})

	return reply, nil
}

// validateAddressing 校验寻址模式与收件人字段的匹配。
// 广播必须显式声明，绝不由收件人为空推断。
func (s *DistributionService) validateAddressing(mode domain.AddressingMode, recipientID *int64, recipientIDs []int64) error {
	switch mode {
	case domain.AddressingSingle:
		if recipientID == nil {
			return ErrNoRecipients
		}
		if len(recipientIDs) > 0 {
			return ErrInvalidAddressing
		}
	case domain.AddressingMulti:
		if len(recipientIDs) == 0 {
			return ErrNoRecipients
		}
		if recipientID != nil {
			return ErrInvalidAddressing
		}
	case domain.AddressingBroadcast:
		if recipientID != nil || len(recipientIDs) > 0 {
			return ErrInvalidAddressing
		}
	default:
		return ErrInvalidAddressing
	}
	return nil
}

// resolveRecipients 把寻址解析为具体的收件部门集合。
func (s *DistributionService) resolveRecipients(mode domain.AddressingMode, recipientID *int64, recipientIDs []int64) ([]int64, error) {
	switch mode {
	case domain.AddressingSingle:
		return []int64{*recipientID}, nil
	case domain.AddressingMulti:
		seen := make(map[int64]struct{}, len(recipientIDs))
		resolved := make([]int64, 0, len(recipientIDs))
		for _, id := range recipientIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			resolved = append(resolved, id)
		}
		return resolved, nil
	case domain.AddressingBroadcast:
		depts, err := s.store.ListDepartments()
		if err != nil {
			return nil, err
		}
		resolved := make([]int64, 0, len(depts))
		for _, dept := range depts {
			resolved = append(resolved, dept.ID)
		}
		return resolved, nil
	}
	return nil, ErrInvalidAddressing
}

// checkScope 校验发件方能否寻址指定收件部门。
// 一级部门与管理员不受限，子部门只能寻址上级部门和同级子部门。
func (s *DistributionService) checkScope(sender domain.Actor, recipientID int64) error {
	if sender.IsAdmin() || !sender.IsSubdepartment {
		if _, err := s.store.GetDepartment(recipientID); err != nil {
			if errors.Is(err, storage.ErrDepartmentNotFound) {
				return ErrRecipientOutOfScope
			}
			return err
		}
		return nil
	}

	// 寻址自己总是允许的
	if recipientID == sender.ID {
		return nil
	}
	if recipientID == sender.ParentDepartmentID {
		return nil
	}

	recipient, err := s.store.GetDepartment(recipientID)
	if err != nil {
		if errors.Is(err, storage.ErrDepartmentNotFound) {
			return ErrRecipientOutOfScope
		}
		return err
	}
	if recipient.ParentID != nil && *recipient.ParentID == sender.ParentDepartmentID {
		return nil
	}
	return ErrRecipientOutOfScope
}

// fanOutNotifications 行落库后异步投递通知。
// 投递失败只记录日志，消息本身已经成立，绝不回滚。
func (s *DistributionService) fanOutNotifications(message *domain.Message, recipients []int64) {
	if s.dispatcher == nil {
		return
	}

	notification := &domain.Notification{
		Kind:      domain.NotificationNewMessage,
		MessageID: message.ID,
		Title:     message.Subject,
		Body:      fmt.Sprintf("部门 %d 发来新消息", message.SenderID),
		URL:       fmt.Sprintf("/messages/%d", message.ID),
	}

	for _, recipientID := range recipients {
		recipientID := recipientID
		task := func() {
			if err := s.dispatcher.Dispatch(recipientID, notification); err != nil {
				s.logger.Warn("notification dispatch failed",
					zap.Int64("messageID", message.ID),
					zap.Int64("departmentID", recipientID),
					zap.Error(err))
			}
		}
		if s.workers != nil {
			s.workers.Submit(task)
		} else {
			task()
		}
	}
}
