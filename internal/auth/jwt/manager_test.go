package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/domain"
)

const testSecret = "test-secret-key-with-enough-length!"

func TestTokenLifecycle(t *testing.T) {
	manager := NewManager(testSecret, "deptportal", 15*time.Minute, 7*24*time.Hour)
	actor := domain.Actor{
		ID:                 3,
		Role:               domain.RoleDepartment,
		IsSubdepartment:    true,
		ParentDepartmentID: 2,
	}

	t.Run("签发后验证还原操作者", func(t *testing.T) {
		pair, err := manager.GenerateTokenPair(actor)
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		assert.Equal(t, int64((15 * time.Minute).Seconds()), pair.ExpiresIn)

		claims, err := manager.ValidateToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, actor, claims.Actor())
	})

	t.Run("刷新令牌换取新访问令牌", func(t *testing.T) {
		pair, err := manager.GenerateTokenPair(actor)
		require.NoError(t, err)

		accessToken, err := manager.RefreshAccessToken(pair.RefreshToken)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(accessToken)
		require.NoError(t, err)
		assert.Equal(t, actor.ID, claims.DepartmentID)
	})

	t.Run("过期令牌返回过期错误", func(t *testing.T) {
		expired := NewManager(testSecret, "deptportal", -time.Minute, -time.Minute)
		pair, err := expired.GenerateTokenPair(actor)
		require.NoError(t, err)

		_, err = manager.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("错误密钥签发的令牌被拒绝", func(t *testing.T) {
		other := NewManager("another-secret-key-with-enough-len", "deptportal", 15*time.Minute, time.Hour)
		pair, err := other.GenerateTokenPair(actor)
		require.NoError(t, err)

		_, err = manager.ValidateToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("伪造字符串被拒绝", func(t *testing.T) {
		_, err := manager.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
