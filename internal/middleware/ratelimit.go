package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"deptportal/backend/internal/storage"
)

// ipLimiter 单个 IP 的限流器
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 基于令牌桶的单实例 IP 限流中间件。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter 创建限流中间件
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
	go rl.cleanupLoop()
	return rl
}

// Limit 按客户端 IP 限流
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.Lock()
		entry, exists := rl.limiters[ip]
		if !exists {
			entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
			rl.limiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		rl.mu.Unlock()

		if !entry.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// cleanupLoop 定期清理不活跃 IP 的限流器
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for ip, entry := range rl.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// SendQuota 发送配额中间件，按部门在滑动窗口内计数。
// 计数器放在共享存储，多实例部署时配额全局生效。
func SendQuota(counter storage.RateLimitRepository, maxPerWindow int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.Next()
			return
		}
		if actor.IsAdmin() {
			c.Next()
			return
		}

		key := "send_quota:" + strconv.FormatInt(actor.ID, 10)
		count, err := counter.IncrementRateLimit(key, window)
		if err != nil {
			// 计数器不可用时放行，不把限流故障放大成发送故障
			c.Next()
			return
		}
		if count > maxPerWindow {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "send quota exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
