package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/storage/memory"
)

func TestDepartmentCreate(t *testing.T) {
	t.Run("管理员建档成功并哈希口令", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewDepartmentService(store)

		dept, err := svc.Create(adminActor, CreateDepartmentInput{
			Name:                 "办公厅",
			HasApprovalAuthority: true,
			Secret:               "top-secret",
		})
		require.NoError(t, err)
		assert.NotZero(t, dept.ID)
		assert.NotEmpty(t, dept.SecretHash)
		assert.NotEqual(t, "top-secret", dept.SecretHash)
	})

	t.Run("非管理员建档被拒绝", func(t *testing.T) {
		store := memory.NewStore()
		seedDepartments(t, store)
		svc := NewDepartmentService(store)

		_, err := svc.Create(actorFor(store, 1), CreateDepartmentInput{
			Name:   "新部门",
			Secret: "secret",
		})
		assert.ErrorIs(t, err, ErrAdminOnly)
	})

	t.Run("子部门下不能再建子部门", func(t *testing.T) {
		store := memory.NewStore()
		seedDepartments(t, store)
		svc := NewDepartmentService(store)

		// 部门 3 本身是子部门
		parent := int64(3)
		_, err := svc.Create(adminActor, CreateDepartmentInput{
			Name:     "三级处室",
			ParentID: &parent,
			Secret:   "secret",
		})
		assert.ErrorIs(t, err, ErrNestedSubdepartment)
	})

	t.Run("上级部门不存在时建档失败", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewDepartmentService(store)

		parent := int64(42)
		_, err := svc.Create(adminActor, CreateDepartmentInput{
			Name:     "悬空处室",
			ParentID: &parent,
			Secret:   "secret",
		})
		assert.ErrorIs(t, err, ErrParentNotFound)
	})

	t.Run("子部门列表只含直接下级", func(t *testing.T) {
		store := memory.NewStore()
		seedDepartments(t, store)
		svc := NewDepartmentService(store)

		subs, err := svc.ListSubdepartments(2)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "预算处", subs[0].Name)
		assert.Equal(t, "决算处", subs[1].Name)
	})
}
