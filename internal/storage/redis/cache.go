package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"deptportal/backend/internal/domain"
)

// Cache Redis 缓存实现
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx := context.Background()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		ctx:    ctx,
	}, nil
}

// ========== 消息缓存 ==========

// CacheMessage 缓存单条消息
func (c *Cache) CacheMessage(message *domain.Message, ttl time.Duration) error {
	key := fmt.Sprintf("message:%d", message.ID)
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedMessage 获取缓存的消息
func (c *Cache) GetCachedMessage(messageID int64) (*domain.Message, error) {
	key := fmt.Sprintf("message:%d", messageID)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("message not found in cache")
		}
		return nil, err
	}

	var message domain.Message
	if err := json.Unmarshal([]byte(data), &message); err != nil {
		return nil, err
	}

	return &message, nil
}

// CacheInbox 缓存部门收件箱列表
func (c *Cache) CacheInbox(departmentID int64, messages []domain.Message, ttl time.Duration) error {
	key := fmt.Sprintf("inbox:%d", departmentID)
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedInbox 获取缓存的部门收件箱列表
func (c *Cache) GetCachedInbox(departmentID int64) ([]domain.Message, error) {
	key := fmt.Sprintf("inbox:%d", departmentID)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("inbox not found in cache")
		}
		return nil, err
	}

	var messages []domain.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// InvalidateInbox 删除部门收件箱缓存。消息状态变更后调用。
func (c *Cache) InvalidateInbox(departmentID int64) error {
	key := fmt.Sprintf("inbox:%d", departmentID)
	return c.client.Del(c.ctx, key).Err()
}

// ========== 部门缓存 ==========

// CacheDepartment 缓存部门信息
func (c *Cache) CacheDepartment(dept *domain.Department, ttl time.Duration) error {
	key := fmt.Sprintf("department:%d", dept.ID)
	data, err := json.Marshal(dept)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedDepartment 获取缓存的部门信息
func (c *Cache) GetCachedDepartment(departmentID int64) (*domain.Department, error) {
	key := fmt.Sprintf("department:%d", departmentID)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("department not found in cache")
		}
		return nil, err
	}

	var dept domain.Department
	if err := json.Unmarshal([]byte(data), &dept); err != nil {
		return nil, err
	}

	return &dept, nil
}

// ========== 限流缓存 ==========

// IncrementRateLimit 增加限流计数
func (c *Cache) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()

	// 增加计数
	incr := pipe.Incr(c.ctx, key)

	// 设置过期时间（如果是新键）
	pipe.Expire(c.ctx, key, window)

	_, err := pipe.Exec(c.ctx)
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// GetRateLimit 获取限流计数
func (c *Cache) GetRateLimit(key string) (int64, error) {
	count, err := c.client.Get(c.ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// ========== 发布订阅 ==========

// PublishNotification 向部门的通知频道发布新消息通知。
// 多实例部署时由各实例的 WebSocket Hub 订阅转发。
func (c *Cache) PublishNotification(departmentID int64, notification *domain.Notification) error {
	channel := fmt.Sprintf("notify:%d", departmentID)
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return c.client.Publish(c.ctx, channel, data).Err()
}

// SubscribeNotifications 订阅部门通知频道
func (c *Cache) SubscribeNotifications(departmentID int64) *redis.PubSub {
	channel := fmt.Sprintf("notify:%d", departmentID)
	return c.client.Subscribe(c.ctx, channel)
}

// SubscribeAllNotifications 订阅全部部门通知频道
func (c *Cache) SubscribeAllNotifications() *redis.PubSub {
	return c.client.PSubscribe(c.ctx, "notify:*")
}

// ========== 工具方法 ==========

// Delete 删除键
func (c *Cache) Delete(key string) error {
	return c.client.Del(c.ctx, key).Err()
}

// Exists 检查键是否存在
func (c *Cache) Exists(key string) (bool, error) {
	count, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Health 检查 Redis 连接健康状态
func (c *Cache) Health() error {
	return c.client.Ping(c.ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
