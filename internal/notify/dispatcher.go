package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	redisstore "deptportal/backend/internal/storage/redis"
	"deptportal/backend/internal/websocket"
)

// Dispatcher 通知投递接口。投递失败只记录，绝不回滚消息。
type Dispatcher interface {
	Dispatch(departmentID int64, notification *domain.Notification) error
}

// ========== 日志投递 ==========

// LogDispatcher 只写日志的投递实现，用于无推送通道的部署。
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher 创建日志投递器
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch 记录一条通知日志
func (d *LogDispatcher) Dispatch(departmentID int64, notification *domain.Notification) error {
	d.logger.Info("notification dispatched",
		zap.Int64("departmentID", departmentID),
		zap.String("kind", string(notification.Kind)),
		zap.Int64("messageID", notification.MessageID),
		zap.String("title", notification.Title))
	return nil
}

// ========== WebSocket 投递 ==========

// HubDispatcher 通过本实例的 WebSocket Hub 投递。
type HubDispatcher struct {
	hub *websocket.Hub
}

// NewHubDispatcher 创建 WebSocket 投递器
func NewHubDispatcher(hub *websocket.Hub) *HubDispatcher {
	return &HubDispatcher{hub: hub}
}

// Dispatch 推送通知到部门的在线连接
func (d *HubDispatcher) Dispatch(departmentID int64, notification *domain.Notification) error {
	d.hub.Notify(departmentID, notification)
	return nil
}

// ========== Redis 投递 ==========

// RedisDispatcher 把通知发布到 Redis 频道，
// 供其他实例的 Hub 订阅转发。
type RedisDispatcher struct {
	cache *redisstore.Cache
}

// NewRedisDispatcher 创建 Redis 投递器
func NewRedisDispatcher(cache *redisstore.Cache) *RedisDispatcher {
	return &RedisDispatcher{cache: cache}
}

// Dispatch 发布通知到部门频道
func (d *RedisDispatcher) Dispatch(departmentID int64, notification *domain.Notification) error {
	return d.cache.PublishNotification(departmentID, notification)
}

// ========== 组合投递 ==========

// MultiDispatcher 按顺序调用多个投递器，收集首个错误。
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher 创建组合投递器
func NewMultiDispatcher(dispatchers ...Dispatcher) *MultiDispatcher {
	return &MultiDispatcher{dispatchers: dispatchers}
}

// Dispatch 依次投递，单个失败不阻断后续投递器
func (d *MultiDispatcher) Dispatch(departmentID int64, notification *domain.Notification) error {
	var firstErr error
	for _, dispatcher := range d.dispatchers {
		if err := dispatcher.Dispatch(departmentID, notification); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ========== Redis 桥接 ==========

// RunRedisBridge 订阅全部部门通知频道，把其他实例发布的通知
// 转发到本实例的 WebSocket Hub。阻塞运行直到 ctx 取消。
func RunRedisBridge(ctx context.Context, cache *redisstore.Cache, hub *websocket.Hub, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := cache.SubscribeAllNotifications()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			// 频道格式: notify:{departmentID}
			idStr := strings.TrimPrefix(msg.Channel, "notify:")
			departmentID, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				logger.Warn("invalid notification channel", zap.String("channel", msg.Channel))
				continue
			}

			var notification domain.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &notification); err != nil {
				logger.Warn("invalid notification payload", zap.Error(err))
				continue
			}

			hub.Notify(departmentID, &notification)
		}
	}
}
