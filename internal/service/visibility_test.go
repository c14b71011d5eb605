package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
	"deptportal/backend/internal/storage/memory"
)

func setupVisibility(t *testing.T) (*VisibilityService, *DistributionService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedDepartments(t, store)
	dist := NewDistributionService(store, nil, nil, nil)
	return NewVisibilityService(store, nil, nil), dist, store
}

func sendSingle(t *testing.T, dist *DistributionService, store *memory.Store, from, to int64, subject string) *domain.Message {
	t.Helper()
	message, err := dist.Create(actorFor(store, from), CreateMessageInput{
		Subject:        subject,
		Content:        "正文",
		AddressingMode: domain.AddressingSingle,
		RecipientID:    &to,
	})
	require.NoError(t, err)
	return message
}

func TestInboxOutbox(t *testing.T) {
	t.Run("收件箱只含寻址命中的消息", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		sendSingle(t, dist, store, 2, 1, "给办公厅")
		sendSingle(t, dist, store, 1, 2, "给财政司")

		inbox, err := vis.Inbox(actorFor(store, 1))
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, "给办公厅", inbox[0].Subject)
	})

	t.Run("广播出现在所有部门的收件箱", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		_, err := dist.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "全员通知",
			Content:        "正文",
			AddressingMode: domain.AddressingBroadcast,
		})
		require.NoError(t, err)

		for _, id := range []int64{1, 2, 3, 4, 5} {
			inbox, err := vis.Inbox(actorFor(store, id))
			require.NoError(t, err)
			assert.Len(t, inbox, 1)
		}
	})

	t.Run("发件箱只含自己发出的消息", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		sendSingle(t, dist, store, 2, 1, "甲")
		sendSingle(t, dist, store, 2, 1, "乙")
		sendSingle(t, dist, store, 1, 2, "丙")

		outbox, err := vis.Outbox(actorFor(store, 2))
		require.NoError(t, err)
		assert.Len(t, outbox, 2)
	})
}

func TestDeleteVisibilityIndependence(t *testing.T) {
	t.Run("收件方删除不影响发件方视图", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		_, err := vis.Delete(actorFor(store, 1), message.ID, ViewAuto)
		require.NoError(t, err)

		inbox, err := vis.Inbox(actorFor(store, 1))
		require.NoError(t, err)
		assert.Empty(t, inbox)

		outbox, err := vis.Outbox(actorFor(store, 2))
		require.NoError(t, err)
		assert.Len(t, outbox, 1)
	})

	t.Run("多收件下一方删除不影响其他收件方", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message, err := dist.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "联合发文",
			Content:        "正文",
			AddressingMode: domain.AddressingMulti,
			RecipientIDs:   []int64{2, 5},
		})
		require.NoError(t, err)

		_, err = vis.Delete(actorFor(store, 2), message.ID, ViewAuto)
		require.NoError(t, err)

		inbox2, err := vis.Inbox(actorFor(store, 2))
		require.NoError(t, err)
		assert.Empty(t, inbox2)

		inbox5, err := vis.Inbox(actorFor(store, 5))
		require.NoError(t, err)
		assert.Len(t, inbox5, 1)
	})

	t.Run("删除与恢复都是幂等的", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")
		recipient := actorFor(store, 1)

		for i := 0; i < 2; i++ {
			_, err := vis.Delete(recipient, message.ID, ViewAuto)
			require.NoError(t, err)
		}
		for i := 0; i < 2; i++ {
			_, err := vis.Restore(recipient, message.ID, ViewAuto)
			require.NoError(t, err)
		}

		inbox, err := vis.Inbox(recipient)
		require.NoError(t, err)
		assert.Len(t, inbox, 1)
	})
}

func TestSelfAddressedViews(t *testing.T) {
	t.Run("自发自收未指明视图拒绝删除", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 1, 1, "发给自己的备忘")

		_, err := vis.Delete(actorFor(store, 1), message.ID, ViewAuto)
		assert.ErrorIs(t, err, ErrAmbiguousView)
	})

	t.Run("删除收件视图后发件视图仍可见", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 1, 1, "发给自己的备忘")
		self := actorFor(store, 1)

		_, err := vis.Delete(self, message.ID, ViewRecipient)
		require.NoError(t, err)

		inbox, err := vis.Inbox(self)
		require.NoError(t, err)
		assert.Empty(t, inbox)

		outbox, err := vis.Outbox(self)
		require.NoError(t, err)
		assert.Len(t, outbox, 1)

		// 单条读取也仍然可见
		_, err = vis.Get(self, message.ID)
		require.NoError(t, err)
	})

	t.Run("与消息无关的视图声明被拒绝", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		// 收件方声明发件视图
		_, err := vis.Delete(actorFor(store, 1), message.ID, ViewSender)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestAdminTombstone(t *testing.T) {
	t.Run("墓碑覆盖双方视图", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "待下架的消息")

		_, err := vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)

		inbox, err := vis.Inbox(actorFor(store, 1))
		require.NoError(t, err)
		assert.Empty(t, inbox)

		outbox, err := vis.Outbox(actorFor(store, 2))
		require.NoError(t, err)
		assert.Empty(t, outbox)

		// 部门读取被拒绝，管理员仍可见
		_, err = vis.Get(actorFor(store, 1), message.ID)
		assert.ErrorIs(t, err, ErrAccessDenied)
		_, err = vis.Get(adminActor, message.ID)
		require.NoError(t, err)
	})

	t.Run("墓碑恢复后部门标记原样保留", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		// 收件方先删，再落墓碑，再恢复墓碑
		_, err := vis.Delete(actorFor(store, 1), message.ID, ViewAuto)
		require.NoError(t, err)
		_, err = vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)
		_, err = vis.Restore(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)

		// 收件方自己的删除标记没被墓碑往返冲掉
		inbox, err := vis.Inbox(actorFor(store, 1))
		require.NoError(t, err)
		assert.Empty(t, inbox)

		outbox, err := vis.Outbox(actorFor(store, 2))
		require.NoError(t, err)
		assert.Len(t, outbox, 1)
	})

	t.Run("墓碑行部门不可删除或恢复", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		_, err := vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)

		_, err = vis.Delete(actorFor(store, 1), message.ID, ViewAuto)
		assert.ErrorIs(t, err, ErrAccessDenied)
		_, err = vis.Restore(actorFor(store, 2), message.ID, ViewAuto)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestTrash(t *testing.T) {
	t.Run("部门回收站合并两个视图的删除", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		sent := sendSingle(t, dist, store, 1, 2, "发出后删除")
		received := sendSingle(t, dist, store, 2, 1, "收到后删除")
		self := actorFor(store, 1)

		_, err := vis.Delete(self, sent.ID, ViewAuto)
		require.NoError(t, err)
		_, err = vis.Delete(self, received.ID, ViewAuto)
		require.NoError(t, err)

		trash, err := vis.Trash(self)
		require.NoError(t, err)
		assert.Len(t, trash, 2)
	})

	t.Run("墓碑行不出现在部门回收站", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		_, err := vis.Delete(actorFor(store, 1), message.ID, ViewAuto)
		require.NoError(t, err)
		_, err = vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)

		trash, err := vis.Trash(actorFor(store, 1))
		require.NoError(t, err)
		assert.Empty(t, trash)

		// 管理员回收站看到的正是墓碑行
		adminTrash, err := vis.Trash(adminActor)
		require.NoError(t, err)
		assert.Len(t, adminTrash, 1)
	})
}

func TestMarkRead(t *testing.T) {
	t.Run("标记已读幂等且保留首次时间", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")
		recipient := actorFor(store, 1)

		first, err := vis.MarkRead(recipient, message.ID)
		require.NoError(t, err)
		require.NotNil(t, first.ReadAt)

		second, err := vis.MarkRead(recipient, message.ID)
		require.NoError(t, err)
		assert.Equal(t, *first.ReadAt, *second.ReadAt)
	})

	t.Run("非收件方标记已读被拒绝", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		_, err := vis.MarkRead(actorFor(store, 2), message.ID)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

// removalRecorder 记录被级联删除的附件
type removalRecorder struct {
	removed []string
}

func (r *removalRecorder) Remove(blobID string) error {
	r.removed = append(r.removed, blobID)
	return nil
}

func TestPermanentDelete(t *testing.T) {
	t.Run("仅管理员可物理清除且必须先落墓碑", func(t *testing.T) {
		vis, dist, store := setupVisibility(t)
		message := sendSingle(t, dist, store, 2, 1, "请示")

		err := vis.PermanentDelete(actorFor(store, 1), message.ID)
		assert.ErrorIs(t, err, ErrAdminOnly)

		err = vis.PermanentDelete(adminActor, message.ID)
		assert.ErrorIs(t, err, ErrNotTombstoned)

		_, err = vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)
		require.NoError(t, vis.PermanentDelete(adminActor, message.ID))

		_, err = store.GetMessage(message.ID)
		assert.True(t, errors.Is(err, storage.ErrMessageNotFound))
	})

	t.Run("物理清除级联删除附件", func(t *testing.T) {
		store := memory.NewStore()
		seedDepartments(t, store)
		dist := NewDistributionService(store, nil, nil, nil)
		blobs := &removalRecorder{}
		vis := NewVisibilityService(store, blobs, nil)

		recipient := int64(1)
		message, err := dist.Create(actorFor(store, 2), CreateMessageInput{
			Subject:           "带附件的请示",
			Content:           "正文",
			AddressingMode:    domain.AddressingSingle,
			RecipientID:       &recipient,
			AttachmentBlobIDs: []string{"blob-1", "blob-2"},
		})
		require.NoError(t, err)

		_, err = vis.Delete(adminActor, message.ID, ViewAuto)
		require.NoError(t, err)
		require.NoError(t, vis.PermanentDelete(adminActor, message.ID))
		assert.Equal(t, []string{"blob-1", "blob-2"}, blobs.removed)
	})
}
