package domain

import "time"

// CachedMessage 客户端缓存的消息镜像。
// 只在合格的网络响应到达时整体覆盖写入，本地从不修改业务字段；
// CachedAt 用于按新旧排序和过期清理。
type CachedMessage struct {
	ID             int64      `json:"id"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	SenderID       int64      `json:"senderId"`
	RecipientIDs   []int64    `json:"recipientIds,omitempty"`
	DocumentNumber string     `json:"documentNumber,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CachedAt       time.Time  `json:"cachedAt"`
}
