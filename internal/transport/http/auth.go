package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/auth"
	jwtpkg "deptportal/backend/internal/auth/jwt"
	"deptportal/backend/internal/middleware"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service   // 认证业务服务
	jwtManager  *jwtpkg.Manager // JWT 令牌管理器
	log         *zap.Logger     // 结构化日志记录器
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, jwtManager *jwtpkg.Manager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		jwtManager:  jwtManager,
		log:         logger,
	}
}

type loginRequest struct {
	DepartmentID int64  `json:"departmentId" binding:"required"`
	Secret       string `json:"secret" binding:"required"`
}

type adminLoginRequest struct {
	Secret string `json:"secret" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type authResponse struct {
	DepartmentID int64  `json:"departmentId"`
	Role         string `json:"role"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Login 部门登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	actor, err := h.authService.Login(auth.LoginInput{
		DepartmentID: req.DepartmentID,
		Secret:       req.Secret,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			Unauthorized(c, MsgInvalidCredentials)
			return
		}
		h.log.Error("login failed", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	tokens, err := h.jwtManager.GenerateTokenPair(actor)
	if err != nil {
		h.log.Error("failed to generate tokens", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	h.log.Info("department logged in", zap.Int64("department_id", actor.ID))

	Success(c, authResponse{
		DepartmentID: actor.ID,
		Role:         string(actor.Role),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// LoginAdmin 管理员登录
func (h *AuthHandler) LoginAdmin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	actor, err := h.authService.LoginAdmin(req.Secret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			Unauthorized(c, MsgInvalidCredentials)
			return
		}
		h.log.Error("admin login failed", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	tokens, err := h.jwtManager.GenerateTokenPair(actor)
	if err != nil {
		h.log.Error("failed to generate tokens", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	h.log.Info("admin logged in")

	Success(c, authResponse{
		DepartmentID: actor.ID,
		Role:         string(actor.Role),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// Refresh 刷新访问令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	accessToken, err := h.jwtManager.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		Unauthorized(c, MsgTokenInvalid)
		return
	}

	Success(c, gin.H{"accessToken": accessToken})
}

// Me 返回当前操作者信息。
// 客户端用它探测会话是否仍然有效。
func (h *AuthHandler) Me(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	Success(c, actor)
}
