package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage/memory"
)

func setupApproval(t *testing.T) (*ApprovalService, *DistributionService, *memory.Store, *recordingDispatcher) {
	t.Helper()
	store := memory.NewStore()
	seedDepartments(t, store)
	dispatcher := &recordingDispatcher{}
	dist := NewDistributionService(store, nil, nil, nil)
	return NewApprovalService(store, dispatcher, nil), dist, store, dispatcher
}

func TestApproval(t *testing.T) {
	t.Run("审批通过并通知发文部门", func(t *testing.T) {
		approvals, dist, store, dispatcher := setupApproval(t)
		// 办公厅（有审批权）收到财政司的请示
		message := sendSingle(t, dist, store, 2, 1, "预算请示")

		approved, err := approvals.Approve(actorFor(store, 1), message.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalApproved, approved.ApprovalStatus)
		require.NotNil(t, approved.ApprovedByDepartmentID)
		assert.Equal(t, int64(1), *approved.ApprovedByDepartmentID)
		assert.NotNil(t, approved.ApprovedAt)

		require.Equal(t, 1, dispatcher.count())
		assert.Equal(t, int64(2), dispatcher.notifications[0].DepartmentID)
		assert.Equal(t, domain.NotificationApproval, dispatcher.notifications[0].Notification.Kind)
	})

	t.Run("终态不可变更", func(t *testing.T) {
		approvals, dist, store, _ := setupApproval(t)
		message := sendSingle(t, dist, store, 2, 1, "预算请示")
		approver := actorFor(store, 1)

		_, err := approvals.Reject(approver, message.ID)
		require.NoError(t, err)

		_, err = approvals.Approve(approver, message.ID)
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
		_, err = approvals.Reject(approver, message.ID)
		assert.ErrorIs(t, err, ErrAlreadyFinalized)

		// 驳回结果原样保留
		reloaded, err := store.GetMessage(message.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalRejected, reloaded.ApprovalStatus)
	})

	t.Run("无审批权的部门被拒绝", func(t *testing.T) {
		approvals, dist, store, _ := setupApproval(t)
		message := sendSingle(t, dist, store, 1, 2, "通知")

		_, err := approvals.Approve(actorFor(store, 2), message.ID)
		assert.ErrorIs(t, err, ErrNotApprover)
	})

	t.Run("非收件方即使有审批权也不可审批", func(t *testing.T) {
		approvals, dist, store, _ := setupApproval(t)
		// 办公厅有审批权，但消息发给了财政司
		message := sendSingle(t, dist, store, 2, 2, "自发自收")

		_, err := approvals.Approve(actorFor(store, 1), message.ID)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("管理员总是可以审批", func(t *testing.T) {
		approvals, dist, store, _ := setupApproval(t)
		message := sendSingle(t, dist, store, 2, 1, "预算请示")

		approved, err := approvals.Approve(adminActor, message.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApprovalApproved, approved.ApprovalStatus)
	})

	t.Run("待审列表只含未审批的可见消息", func(t *testing.T) {
		approvals, dist, store, _ := setupApproval(t)
		first := sendSingle(t, dist, store, 2, 1, "请示甲")
		sendSingle(t, dist, store, 2, 1, "请示乙")
		approver := actorFor(store, 1)

		_, err := approvals.Approve(approver, first.ID)
		require.NoError(t, err)

		pending, err := approvals.Pending(approver)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "请示乙", pending[0].Subject)
	})
}
