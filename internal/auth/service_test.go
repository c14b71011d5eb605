package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage/memory"
)

func TestLogin(t *testing.T) {
	store := memory.NewStore()
	hash, err := HashSecret("correct-secret")
	require.NoError(t, err)

	parent := int64(1)
	require.NoError(t, store.SaveDepartment(&domain.Department{ID: 1, Name: "财政司", SecretHash: hash}))
	require.NoError(t, store.SaveDepartment(&domain.Department{ID: 2, Name: "预算处", ParentID: &parent, SecretHash: hash}))

	svc := NewService(store, "")

	t.Run("口令正确返回操作者视图", func(t *testing.T) {
		actor, err := svc.Login(LoginInput{DepartmentID: 1, Secret: "correct-secret"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), actor.ID)
		assert.Equal(t, domain.RoleDepartment, actor.Role)
		assert.False(t, actor.IsSubdepartment)
	})

	t.Run("子部门登录携带上级信息", func(t *testing.T) {
		actor, err := svc.Login(LoginInput{DepartmentID: 2, Secret: "correct-secret"})
		require.NoError(t, err)
		assert.True(t, actor.IsSubdepartment)
		assert.Equal(t, int64(1), actor.ParentDepartmentID)
	})

	t.Run("口令错误与部门不存在返回同一错误", func(t *testing.T) {
		_, err := svc.Login(LoginInput{DepartmentID: 1, Secret: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = svc.Login(LoginInput{DepartmentID: 42, Secret: "correct-secret"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestLoginAdmin(t *testing.T) {
	t.Run("口令正确返回管理员操作者", func(t *testing.T) {
		hash, err := HashSecret("admin-secret")
		require.NoError(t, err)
		svc := NewService(memory.NewStore(), hash)

		actor, err := svc.LoginAdmin("admin-secret")
		require.NoError(t, err)
		assert.True(t, actor.IsAdmin())
		assert.Zero(t, actor.ID)
	})

	t.Run("未配置管理员口令时禁用登录", func(t *testing.T) {
		svc := NewService(memory.NewStore(), "")

		_, err := svc.LoginAdmin("anything")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
