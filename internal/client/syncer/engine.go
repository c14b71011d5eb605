package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deptportal/backend/internal/client/connectivity"
	"deptportal/backend/internal/client/fetch"
	"deptportal/backend/internal/client/kvstore"
	"deptportal/backend/internal/domain"
)

var (
	// ErrDraftNotFound 草稿不存在
	ErrDraftNotFound = errors.New("draft not found")
	// ErrDraftInFlight 草稿正在同步中，不允许编辑或重复提交
	ErrDraftInFlight = errors.New("draft sync in flight")
	// ErrValidationFailed 草稿缺少必填内容，需用户修改后重存，绝不自动重试
	ErrValidationFailed = errors.New("draft validation failed")
	// ErrAttachmentTooLarge 附件超出大小上限，需用户修改
	ErrAttachmentTooLarge = errors.New("attachment too large")
)

const (
	// DraftCollection 本地草稿队列集合名。
	DraftCollection = "drafts"
	// AttachmentCollection 随草稿暂存的附件集合名。
	AttachmentCollection = "attachments"

	// MaxAttachmentSize 附件大小上限，与服务端默认一致
	MaxAttachmentSize = 10 << 20
)

// DraftCollectionSpec 草稿队列的集合声明。
func DraftCollectionSpec() kvstore.CollectionSpec {
	return kvstore.CollectionSpec{
		Name:    DraftCollection,
		Indexes: []string{"syncStatus"},
	}
}

// AttachmentCollectionSpec 本地附件的集合声明。
func AttachmentCollectionSpec() kvstore.CollectionSpec {
	return kvstore.CollectionSpec{Name: AttachmentCollection}
}

// LocalAttachment 随草稿一起排队的附件内容。
// 同步时先上传换取服务端 blobId，草稿出队后删除本地副本。
type LocalAttachment struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageSender 同步引擎依赖的服务端最小接口，由 fetch.Client 实现。
type MessageSender interface {
	SendMessage(ctx context.Context, req fetch.SendMessageRequest) (*fetch.Message, error)
	UploadAttachment(ctx context.Context, filename string, data []byte) (string, error)
}

// Engine 草稿同步引擎。
//
// 草稿以 pending 状态入队，同步按创建时间先进先出：
//   - 发送成功：草稿出队，服务端消息为准
//   - 网络失败：草稿回到 pending，本轮同步停止，等下一次上线边沿
//   - 服务端拒绝：草稿标记 failed 并记录原因，继续同步后面的草稿
//
// 内存闩锁保证同一时刻只有一轮同步在跑，重复调用直接空转返回，
// 先进先出的发送顺序因此不会被并发的第二轮打乱；
// 恰好一次语义由稳定的草稿编号在服务端去重兜底。
// 不做定时重试，重试只由重新上线或用户动作触发。
type Engine struct {
	store   *kvstore.Store
	sender  MessageSender
	monitor *connectivity.Monitor
	logger  *zap.Logger

	mu       sync.Mutex
	syncing  bool
	inFlight map[string]struct{}
}

// NewEngine 创建同步引擎。
func NewEngine(store *kvstore.Store, sender MessageSender, monitor *connectivity.Monitor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		sender:   sender,
		monitor:  monitor,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// ========== 草稿队列 ==========

// SaveDraft 新建或覆盖一条草稿，状态重置为 pending。
// 编号为空时生成新编号；编辑已失败的草稿会清掉失败原因。
func (e *Engine) SaveDraft(draft *domain.DraftMessage) error {
	if err := validateDraft(draft); err != nil {
		return err
	}
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	} else if e.isInFlight(draft.ID) {
		return ErrDraftInFlight
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	draft.SyncStatus = domain.SyncPending
	draft.ErrorMessage = ""

	return e.putDraft(draft)
}

// Draft 读取一条草稿。
func (e *Engine) Draft(id string) (*domain.DraftMessage, error) {
	var draft domain.DraftMessage
	if err := e.store.Get(DraftCollection, id, &draft); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return &draft, nil
}

// Drafts 全部草稿，按创建时间升序。
func (e *Engine) Drafts() ([]domain.DraftMessage, error) {
	entries, err := e.store.List(DraftCollection)
	if err != nil {
		return nil, err
	}
	return decodeDrafts(entries), nil
}

// DeleteDraft 删除一条草稿，同步中的草稿不允许删除。
func (e *Engine) DeleteDraft(id string) error {
	if e.isInFlight(id) {
		return ErrDraftInFlight
	}
	return e.store.Delete(DraftCollection, id)
}

// SaveAttachment 把附件内容暂存到本地，返回草稿可引用的本地编号。
func (e *Engine) SaveAttachment(filename string, data []byte) (string, error) {
	if int64(len(data)) > MaxAttachmentSize {
		return "", ErrAttachmentTooLarge
	}
	att := LocalAttachment{
		ID:        uuid.New().String(),
		Filename:  filename,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := e.store.Put(AttachmentCollection, att.ID, &att, nil); err != nil {
		return "", err
	}
	return att.ID, nil
}

// RetryDraft 把失败的草稿放回待同步队列。编号不变，服务端据此去重。
func (e *Engine) RetryDraft(id string) error {
	draft, err := e.Draft(id)
	if err != nil {
		return err
	}
	if e.isInFlight(id) {
		return ErrDraftInFlight
	}
	draft.SyncStatus = domain.SyncPending
	draft.ErrorMessage = ""
	return e.putDraft(draft)
}

// ========== 同步 ==========

// SyncAll 同步全部待发送草稿，先进先出。
// 已有一轮在跑时空转返回；返回成功出队的数量；网络失败会提前结束本轮。
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	if !e.beginPass() {
		return 0, nil
	}
	defer e.endPass()

	e.requeueStale()

	entries, err := e.store.FindByIndex(DraftCollection, "syncStatus", string(domain.SyncPending), 0)
	if err != nil {
		return 0, err
	}

	drafts := decodeDrafts(entries)
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].CreatedAt.Before(drafts[j].CreatedAt) })

	synced := 0
	for i := range drafts {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		err := e.syncOne(ctx, &drafts[i])
		switch {
		case err == nil:
			synced++
		case errors.Is(err, ErrDraftInFlight):
			// 另一个同步流程已经拿到这条，跳过
			continue
		case errors.Is(err, fetch.ErrUnreachable), errors.Is(err, fetch.ErrUnauthorized):
			// 不是草稿本身的问题，停止本轮，草稿已回到 pending
			return synced, err
		default:
			// 服务端拒绝，草稿已标记 failed，继续后面的
			continue
		}
	}
	return synced, nil
}

// syncOne 同步单条草稿。
func (e *Engine) syncOne(ctx context.Context, draft *domain.DraftMessage) error {
	if !e.acquire(draft.ID) {
		return ErrDraftInFlight
	}
	defer e.release(draft.ID)

	draft.SyncStatus = domain.SyncSyncing
	if err := e.putDraft(draft); err != nil {
		return err
	}

	var message *fetch.Message
	blobIDs, localIDs, err := e.uploadAttachments(ctx, draft)
	if err == nil {
		message, err = e.sender.SendMessage(ctx, buildSendRequest(draft, blobIDs))
	}
	if err != nil {
		if errors.Is(err, fetch.ErrUnreachable) || errors.Is(err, fetch.ErrUnauthorized) {
			draft.SyncStatus = domain.SyncPending
			if putErr := e.putDraft(draft); putErr != nil {
				e.logger.Error("failed to requeue draft", zap.String("draftID", draft.ID), zap.Error(putErr))
			}
			return err
		}

		draft.SyncStatus = domain.SyncFailed
		draft.ErrorMessage = err.Error()
		if putErr := e.putDraft(draft); putErr != nil {
			e.logger.Error("failed to mark draft failed", zap.String("draftID", draft.ID), zap.Error(putErr))
		}
		e.logger.Warn("draft rejected by server",
			zap.String("draftID", draft.ID),
			zap.Error(err))
		return err
	}

	if err := e.store.Delete(DraftCollection, draft.ID); err != nil {
		// 服务端已去重，下次重发只会拿回同一条消息
		e.logger.Warn("failed to dequeue synced draft", zap.String("draftID", draft.ID), zap.Error(err))
	}
	for _, id := range localIDs {
		if err := e.store.Delete(AttachmentCollection, id); err != nil {
			e.logger.Warn("failed to drop local attachment", zap.String("attachmentID", id), zap.Error(err))
		}
	}

	e.logger.Info("draft synced",
		zap.String("draftID", draft.ID),
		zap.Int64("messageID", message.ID))
	return nil
}

// Run 监听连通性恢复边沿，每次重新上线补一轮同步。
func (e *Engine) Run(ctx context.Context) {
	online := e.monitor.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-online:
			if _, err := e.SyncAll(ctx); err != nil && !errors.Is(err, fetch.ErrUnreachable) {
				e.logger.Warn("reconnect sync pass failed", zap.Error(err))
			}
		}
	}
}

// ========== 内部 ==========

// requeueStale 把上次进程中断遗留在 syncing 状态的草稿放回待发送。
// 服务端按草稿编号去重，重发已送达的草稿只会拿回同一条消息。
func (e *Engine) requeueStale() {
	entries, err := e.store.FindByIndex(DraftCollection, "syncStatus", string(domain.SyncSyncing), 0)
	if err != nil {
		return
	}
	for _, draft := range decodeDrafts(entries) {
		draft.SyncStatus = domain.SyncPending
		if err := e.putDraft(&draft); err != nil {
			e.logger.Warn("failed to requeue stale draft", zap.String("draftID", draft.ID), zap.Error(err))
		}
	}
}

func (e *Engine) beginPass() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return false
	}
	e.syncing = true
	return true
}

func (e *Engine) endPass() {
	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
}

func (e *Engine) putDraft(draft *domain.DraftMessage) error {
	return e.store.Put(DraftCollection, draft.ID, draft, map[string]string{
		"syncStatus": string(draft.SyncStatus),
	})
}

func (e *Engine) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.inFlight[id]; held {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

func (e *Engine) isInFlight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, held := e.inFlight[id]
	return held
}

// uploadAttachments 把草稿引用的本地附件换成服务端 blobId。
// 不在本地附件集合里的编号视为已上传过，原样带回。
func (e *Engine) uploadAttachments(ctx context.Context, draft *domain.DraftMessage) (blobIDs, localIDs []string, err error) {
	for _, id := range draft.AttachmentBlobIDs {
		var att LocalAttachment
		getErr := e.store.Get(AttachmentCollection, id, &att)
		if errors.Is(getErr, kvstore.ErrNotFound) {
			blobIDs = append(blobIDs, id)
			continue
		}
		if getErr != nil {
			return nil, nil, getErr
		}

		blobID, upErr := e.sender.UploadAttachment(ctx, att.Filename, att.Data)
		if upErr != nil {
			return nil, nil, upErr
		}
		blobIDs = append(blobIDs, blobID)
		localIDs = append(localIDs, id)
	}
	return blobIDs, localIDs, nil
}

func validateDraft(draft *domain.DraftMessage) error {
	if draft.Subject == "" || draft.Content == "" {
		return fmt.Errorf("%w: subject and content are required", ErrValidationFailed)
	}
	if draft.AddressingMode != domain.AddressingBroadcast && len(draft.RecipientIDs) == 0 {
		return fmt.Errorf("%w: recipients are required", ErrValidationFailed)
	}
	return nil
}

func buildSendRequest(draft *domain.DraftMessage, blobIDs []string) fetch.SendMessageRequest {
	req := fetch.SendMessageRequest{
		ClientDraftID:     draft.ID,
		Subject:           draft.Subject,
		Content:           draft.Content,
		AddressingMode:    string(draft.AddressingMode),
		DocumentNumber:    draft.DocumentNumber,
		AttachmentBlobIDs: blobIDs,
	}
	if draft.AddressingMode == domain.AddressingSingle && len(draft.RecipientIDs) > 0 {
		req.RecipientID = &draft.RecipientIDs[0]
	} else {
		req.RecipientIDs = draft.RecipientIDs
	}
	return req
}

func decodeDrafts(entries []kvstore.Entry) []domain.DraftMessage {
	drafts := make([]domain.DraftMessage, 0, len(entries))
	for _, entry := range entries {
		var draft domain.DraftMessage
		if err := json.Unmarshal(entry.Value, &draft); err != nil {
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts
}
