package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage/memory"
)

// recordingDispatcher 记录投递过的通知
type recordingDispatcher struct {
	mu            sync.Mutex
	notifications []dispatched
}

type dispatched struct {
	DepartmentID int64
	Notification *domain.Notification
}

func (d *recordingDispatcher) Dispatch(departmentID int64, n *domain.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, dispatched{departmentID, n})
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.notifications)
}

func setupDistribution(t *testing.T) (*DistributionService, *memory.Store, *recordingDispatcher) {
	t.Helper()
	store := memory.NewStore()
	dispatcher := &recordingDispatcher{}
	// workers 传 nil，通知同步投递，便于断言
	svc := NewDistributionService(store, dispatcher, nil, nil)
	return svc, store, dispatcher
}

// seedDepartments 建立测试部门结构:
//
//	1 办公厅（顶级，有审批权）
//	2 财政司（顶级）
//	3 预算处（财政司子部门）
//	4 决算处（财政司子部门）
//	5 秘书处（办公厅子部门）
func seedDepartments(t *testing.T, store *memory.Store) {
	t.Helper()
	parent1, parent2 := int64(1), int64(2)
	depts := []*domain.Department{
		{ID: 1, Name: "办公厅", HasApprovalAuthority: true},
		{ID: 2, Name: "财政司"},
		{ID: 3, Name: "预算处", ParentID: &parent2},
		{ID: 4, Name: "决算处", ParentID: &parent2},
		{ID: 5, Name: "秘书处", ParentID: &parent1},
	}
	for _, dept := range depts {
		require.NoError(t, store.SaveDepartment(dept))
	}
}

func actorFor(store *memory.Store, id int64) domain.Actor {
	dept, err := store.GetDepartment(id)
	if err != nil {
		panic(err)
	}
	return dept.Actor()
}

var adminActor = domain.Actor{ID: 0, Role: domain.RoleAdmin}

func TestCreateMessage(t *testing.T) {
	t.Run("单收件发送成功且只产生一行", func(t *testing.T) {
		svc, store, dispatcher := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		message, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "关于年度预算的请示",
			Content:        "请审批。",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)
		assert.NotZero(t, message.ID)
		assert.Equal(t, int64(2), message.SenderID)
		assert.Equal(t, 1, dispatcher.count())
	})

	t.Run("主题或正文为空被拒绝", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		_, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrSubjectRequired)

		_, err = svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "主题",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrContentRequired)
	})

	t.Run("广播必须显式声明且不携带收件人", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		// 收件人为空但模式是 multi，不会被当成广播
		_, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "主题",
			Content:        "正文",
			AddressingMode: domain.AddressingMulti,
		})
		assert.ErrorIs(t, err, ErrNoRecipients)

		// 广播模式携带收件人是矛盾输入
		recipient := int64(1)
		_, err = svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "主题",
			Content:        "正文",
			AddressingMode: domain.AddressingBroadcast,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrInvalidAddressing)
	})

	t.Run("广播展开为全部部门并逐一通知", func(t *testing.T) {
		svc, store, dispatcher := setupDistribution(t)
		seedDepartments(t, store)

		message, err := svc.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "全员通知",
			Content:        "明天放假。",
			AddressingMode: domain.AddressingBroadcast,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AddressingBroadcast, message.AddressingMode)
		assert.Equal(t, 5, dispatcher.count())

		// 权威记录仍然只有一行
		_, err = store.GetMessage(message.ID)
		require.NoError(t, err)
	})

	t.Run("多收件模式去重后逐一通知", func(t *testing.T) {
		svc, store, dispatcher := setupDistribution(t)
		seedDepartments(t, store)

		_, err := svc.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "联合发文",
			Content:        "正文",
			AddressingMode: domain.AddressingMulti,
			RecipientIDs:   []int64{2, 3, 2},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, dispatcher.count())
	})

	t.Run("未知寻址模式被拒绝", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		_, err := svc.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "主题",
			Content:        "正文",
			AddressingMode: "cc",
		})
		assert.ErrorIs(t, err, ErrInvalidAddressing)
	})
}

func TestCreateMessageScope(t *testing.T) {
	t.Run("子部门可寻址自己上级和同级", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)
		budget := actorFor(store, 3)

		for _, recipient := range []int64{3, 2, 4} {
			recipient := recipient
			_, err := svc.Create(budget, CreateMessageInput{
				Subject:        "处内通知",
				Content:        "正文",
				AddressingMode: domain.AddressingSingle,
				RecipientID:    &recipient,
			})
			require.NoError(t, err)
		}
	})

	t.Run("子部门寻址其他部门越权", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)
		budget := actorFor(store, 3)

		// 办公厅不是预算处的上级
		recipient := int64(1)
		_, err := svc.Create(budget, CreateMessageInput{
			Subject:        "越权发文",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrRecipientOutOfScope)

		// 别家的子部门同样不行
		recipient = 5
		_, err = svc.Create(budget, CreateMessageInput{
			Subject:        "越权发文",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrRecipientOutOfScope)
	})

	t.Run("多收件中混入越权收件人整体失败", func(t *testing.T) {
		svc, store, dispatcher := setupDistribution(t)
		seedDepartments(t, store)

		_, err := svc.Create(actorFor(store, 3), CreateMessageInput{
			Subject:        "联合发文",
			Content:        "正文",
			AddressingMode: domain.AddressingMulti,
			RecipientIDs:   []int64{4, 1},
		})
		assert.ErrorIs(t, err, ErrRecipientOutOfScope)
		// 不产生半成品行，也不发任何通知
		assert.Equal(t, 0, dispatcher.count())
	})

	t.Run("顶级部门寻址不存在的部门失败", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(99)
		_, err := svc.Create(actorFor(store, 1), CreateMessageInput{
			Subject:        "主题",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		assert.ErrorIs(t, err, ErrRecipientOutOfScope)
	})
}

func TestCreateMessageDraftDedup(t *testing.T) {
	t.Run("相同草稿编号重复提交返回同一行", func(t *testing.T) {
		svc, store, dispatcher := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		input := CreateMessageInput{
			ClientDraftID:  "draft-abc",
			Subject:        "重试的请示",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		}

		first, err := svc.Create(actorFor(store, 2), input)
		require.NoError(t, err)

		second, err := svc.Create(actorFor(store, 2), input)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		// 第二次提交不再通知
		assert.Equal(t, 1, dispatcher.count())
	})

	t.Run("冒用他人草稿编号被拒绝", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		input := CreateMessageInput{
			ClientDraftID:  "draft-abc",
			Subject:        "请示",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		}
		_, err := svc.Create(actorFor(store, 2), input)
		require.NoError(t, err)

		_, err = svc.Create(actorFor(store, 1), input)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestForwardMessage(t *testing.T) {
	t.Run("转发产生新行且保留原始发件人", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		original, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "预算报告",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)

		target := int64(2)
		forwarded, err := svc.Forward(actorFor(store, 1), original.ID, CreateMessageInput{
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &target,
		})
		require.NoError(t, err)

		assert.NotEqual(t, original.ID, forwarded.ID)
		assert.Equal(t, "转发: 预算报告", forwarded.Subject)
		assert.Equal(t, int64(1), forwarded.SenderID)
		require.NotNil(t, forwarded.OriginalSenderID)
		assert.Equal(t, int64(2), *forwarded.OriginalSenderID)

		// 原行不变
		reloaded, err := store.GetMessage(original.ID)
		require.NoError(t, err)
		assert.Equal(t, "预算报告", reloaded.Subject)
	})

	t.Run("二次转发原始发件人不变", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		original, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "预算报告",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)

		target := int64(2)
		first, err := svc.Forward(actorFor(store, 1), original.ID, CreateMessageInput{
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &target,
		})
		require.NoError(t, err)

		target2 := int64(1)
		second, err := svc.Forward(actorFor(store, 2), first.ID, CreateMessageInput{
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &target2,
		})
		require.NoError(t, err)

		require.NotNil(t, second.OriginalSenderID)
		assert.Equal(t, int64(2), *second.OriginalSenderID)
		// 主题前缀不叠加
		assert.Equal(t, "转发: 预算报告", second.Subject)
	})

	t.Run("对不可见消息转发被拒绝", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		original, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "内部文件",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)

		target := int64(2)
		_, err = svc.Forward(actorFor(store, 4), original.ID, CreateMessageInput{
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &target,
		})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestReplyMessage(t *testing.T) {
	t.Run("回复单收件寻址到原发件部门", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		original, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "请示",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)

		reply, err := svc.Reply(actorFor(store, 1), original.ID, "已收悉。")
		require.NoError(t, err)
		assert.Equal(t, "回复: 请示", reply.Subject)
		assert.Equal(t, domain.AddressingSingle, reply.AddressingMode)
		require.NotNil(t, reply.RecipientID)
		assert.Equal(t, int64(2), *reply.RecipientID)
		require.NotNil(t, reply.ReplyToID)
		assert.Equal(t, original.ID, *reply.ReplyToID)
	})

	t.Run("空正文回复被拒绝", func(t *testing.T) {
		svc, store, _ := setupDistribution(t)
		seedDepartments(t, store)

		recipient := int64(1)
		original, err := svc.Create(actorFor(store, 2), CreateMessageInput{
			Subject:        "请示",
			Content:        "正文",
			AddressingMode: domain.AddressingSingle,
			RecipientID:    &recipient,
		})
		require.NoError(t, err)

		_, err = svc.Reply(actorFor(store, 1), original.ID, "  ")
		assert.ErrorIs(t, err, ErrContentRequired)
	})
}
