package domain

import "time"

// SyncStatus 草稿同步状态。synced 是瞬时终态，
// 同步成功的草稿直接从队列删除，不以 synced 状态落盘。
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncFailed  SyncStatus = "failed"
	SyncSynced  SyncStatus = "synced"
)

// DraftMessage 客户端本地排队的未发送消息。
// ID 由客户端生成，重试期间保持稳定，是服务端幂等去重的依据。
type DraftMessage struct {
	ID                string         `json:"id"`
	Subject           string         `json:"subject"`
	Content           string         `json:"content"`
	AddressingMode    AddressingMode `json:"addressingMode"`
	RecipientIDs      []int64        `json:"recipientIds"`
	DocumentNumber    string         `json:"documentNumber,omitempty"`
	AttachmentBlobIDs []string       `json:"attachmentBlobIds,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	SyncStatus        SyncStatus     `json:"syncStatus"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
}
