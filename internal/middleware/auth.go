package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/auth/jwt"
	"deptportal/backend/internal/domain"
)

// ActorKey 操作者在 gin 上下文中的键
const ActorKey = "actor"

// ActorAuth 操作者认证中间件，解析 JWT 并注入 domain.Actor。
type ActorAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewActorAuth 创建操作者认证中间件
func NewActorAuth(jwtManager *jwt.Manager, logger *zap.Logger) *ActorAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActorAuth{
		jwtManager: jwtManager,
		log:        logger,
	}
}

// RequireAuth 要求有效的部门或管理员令牌
func (aa *ActorAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := aa.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		claims, err := aa.jwtManager.ValidateToken(token)
		if err != nil {
			aa.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(ActorKey, claims.Actor())

		c.Next()
	}
}

// RequireAdmin 要求管理员角色，必须排在 RequireAuth 之后
func (aa *ActorAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok || !actor.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "admin privileges required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractToken 从请求中提取JWT token
func (aa *ActorAuth) extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}

// ActorFrom 从 gin 上下文取出操作者。
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	value, exists := c.Get(ActorKey)
	if !exists {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	return actor, ok
}
