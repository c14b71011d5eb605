package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/client/fetch"
	"deptportal/backend/internal/client/kvstore"
)

var (
	// ErrNoSession 本地没有保存过会话
	ErrNoSession = errors.New("no saved session")
	// ErrSessionExpired 服务端明确判定凭证失效
	ErrSessionExpired = errors.New("session expired")
)

// Collection 会话集合名。
const Collection = "session"

// CollectionSpec 会话的集合声明。
func CollectionSpec() kvstore.CollectionSpec {
	return kvstore.CollectionSpec{Name: Collection}
}

const currentKey = "current"

// Session 持久化的登录会话。
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	DepartmentID int64     `json:"departmentId"`
	Role         string    `json:"role"`
	SavedAt      time.Time `json:"savedAt"`
}

// Prober 会话探测的最小接口，由 fetch.Client 实现。
type Prober interface {
	SetToken(token string)
	Me(ctx context.Context) (map[string]interface{}, error)
}

// Manager 会话续用管理器。
//
// 登录后把会话落盘，下次启动 Resume：
//   - 服务端可达且认可令牌：会话续用
//   - 网络不可达：使用本地会话离线续用，等待重连
//   - 服务端明确返回 401：清除本地会话，要求重新登录，绝不离线回退
type Manager struct {
	store  *kvstore.Store
	prober Prober
	logger *zap.Logger
}

// NewManager 创建会话管理器。
func NewManager(store *kvstore.Store, prober Prober, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		prober: prober,
		logger: logger,
	}
}

// Save 保存会话并设置客户端令牌。
func (m *Manager) Save(s *Session) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	m.prober.SetToken(s.AccessToken)
	return m.store.Put(Collection, currentKey, s, nil)
}

// Resume 恢复上次的会话。
func (m *Manager) Resume(ctx context.Context) (*Session, error) {
	var s Session
	if err := m.store.Get(Collection, currentKey, &s); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	m.prober.SetToken(s.AccessToken)

	_, err := m.prober.Me(ctx)
	switch {
	case err == nil:
		m.logger.Info("session resumed", zap.Int64("departmentID", s.DepartmentID))
		return &s, nil
	case errors.Is(err, fetch.ErrUnauthorized):
		// 服务端明确拒绝，本地会话作废
		if clearErr := m.Clear(); clearErr != nil {
			m.logger.Warn("failed to clear expired session", zap.Error(clearErr))
		}
		return nil, ErrSessionExpired
	case errors.Is(err, fetch.ErrUnreachable):
		// 网络不可达不等于凭证失效，离线续用
		m.logger.Info("session resumed offline", zap.Int64("departmentID", s.DepartmentID))
		return &s, nil
	default:
		return nil, err
	}
}

// Clear 清除本地会话。
func (m *Manager) Clear() error {
	m.prober.SetToken("")
	return m.store.Delete(Collection, currentKey)
}
