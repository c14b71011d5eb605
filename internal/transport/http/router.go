package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/auth"
	jwtpkg "deptportal/backend/internal/auth/jwt"
	"deptportal/backend/internal/blob"
	"deptportal/backend/internal/config"
	"deptportal/backend/internal/health"
	"deptportal/backend/internal/middleware"
	"deptportal/backend/internal/monitoring"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
	"deptportal/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config              *config.Config
	DistributionService *service.DistributionService
	VisibilityService   *service.VisibilityService
	ApprovalService     *service.ApprovalService
	DepartmentService   *service.DepartmentService
	AuthService         *auth.Service
	JWTManager          *jwtpkg.Manager
	BlobStore           *blob.Store
	WebSocketHub        *websocket.Hub
	Store               storage.Store
	RateLimitCounter    storage.RateLimitRepository
	Metrics             *monitoring.Metrics
	HealthChecker       *health.Checker
	Logger              *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, logger)

	// 使用自定义中间件替代默认中间件
	router.Use(monitoringMW.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitoringMW.HTTPMetrics())

	// 全局请求体限制，附件上传走单独的更大限制
	router.Use(middleware.BodySizeLimit(deps.Config.Blob.MaxSize + 1024*1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// IP 限流
	rateLimiter := middleware.NewRateLimiter(
		deps.Config.RateLimit.RequestsPerSecond,
		deps.Config.RateLimit.Burst,
	)
	router.Use(rateLimiter.Limit())

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.JWTManager, logger)
	messageHandler := NewMessageHandler(deps.DistributionService, deps.VisibilityService, deps.Metrics, logger)
	approvalHandler := NewApprovalHandler(deps.ApprovalService, deps.Metrics, logger)
	adminHandler := NewAdminHandler(deps.DepartmentService, deps.VisibilityService, deps.Metrics, logger)
	attachmentHandler := NewAttachmentHandler(deps.BlobStore, deps.Config.Blob.MaxSize, logger)

	// 创建中间件
	actorAuth := middleware.NewActorAuth(deps.JWTManager, logger)

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/live", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/ready", gin.WrapH(deps.HealthChecker.Handler()))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	// WebSocket 通知通道
	if deps.WebSocketHub != nil {
		router.GET("/v1/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// 认证
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/admin/login", authHandler.LoginAdmin)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/me", actorAuth.RequireAuth(), authHandler.Me)
		}

		// 消息，全部需要认证
		messages := v1.Group("/messages", actorAuth.RequireAuth())
		{
			// 发送走共享计数的部门配额
			sendGroup := messages.Group("")
			if deps.RateLimitCounter != nil {
				sendGroup.Use(middleware.SendQuota(deps.RateLimitCounter, 120, time.Minute))
			}
			sendGroup.POST("", messageHandler.Create)
			sendGroup.POST("/:id/forward", messageHandler.Forward)
			sendGroup.POST("/:id/reply", messageHandler.Reply)

			messages.GET("/inbox", messageHandler.Inbox)
			messages.GET("/outbox", messageHandler.Outbox)
			messages.GET("/trash", messageHandler.Trash)
			messages.GET("/:id", messageHandler.Get)
			messages.POST("/:id/read", messageHandler.MarkRead)
			messages.DELETE("/:id", messageHandler.Delete)
			messages.POST("/:id/restore", messageHandler.Restore)
		}

		// 审批
		approvals := v1.Group("/approvals", actorAuth.RequireAuth())
		{
			approvals.GET("/pending", approvalHandler.Pending)
			approvals.POST("/:id/approve", approvalHandler.Approve)
			approvals.POST("/:id/reject", approvalHandler.Reject)
		}

		// 附件
		attachments := v1.Group("/attachments", actorAuth.RequireAuth())
		{
			attachments.POST("", attachmentHandler.Upload)
			attachments.GET("/:blobId", attachmentHandler.Download)
		}

		// 部门目录，寻址选择用
		v1.GET("/departments", actorAuth.RequireAuth(), adminHandler.ListDepartments)
		v1.GET("/departments/:id", actorAuth.RequireAuth(), adminHandler.GetDepartment)
		v1.GET("/departments/:id/subdepartments", actorAuth.RequireAuth(), adminHandler.ListSubdepartments)

		// 管理端
		admin := v1.Group("/admin", actorAuth.RequireAuth(), actorAuth.RequireAdmin())
		{
			admin.POST("/departments", adminHandler.CreateDepartment)
			admin.GET("/messages/trash", messageHandler.Trash)
			admin.DELETE("/messages/:id/purge", adminHandler.PurgeMessage)
		}
	}

	return router
}
