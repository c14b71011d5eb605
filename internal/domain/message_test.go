package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecipient(t *testing.T) {
	t.Run("单收件只命中指定部门", func(t *testing.T) {
		recipient := int64(7)
		m := Message{AddressingMode: AddressingSingle, RecipientID: &recipient}
		assert.True(t, m.IsRecipient(7))
		assert.False(t, m.IsRecipient(8))
	})

	t.Run("多收件按列表命中", func(t *testing.T) {
		m := Message{AddressingMode: AddressingMulti, RecipientIDs: Int64List{1, 2}}
		assert.True(t, m.IsRecipient(1))
		assert.False(t, m.IsRecipient(3))
	})

	t.Run("广播命中所有部门", func(t *testing.T) {
		m := Message{AddressingMode: AddressingBroadcast}
		assert.True(t, m.IsRecipient(1))
		assert.True(t, m.IsRecipient(999))
	})

	t.Run("未知模式不命中任何部门", func(t *testing.T) {
		m := Message{AddressingMode: "cc", RecipientIDs: Int64List{1}}
		assert.False(t, m.IsRecipient(1))
	})
}

func TestVisibility(t *testing.T) {
	dept := Actor{ID: 7, Role: RoleDepartment}
	admin := Actor{ID: 0, Role: RoleAdmin}
	recipient := int64(7)

	t.Run("墓碑覆盖其余标记且仅管理员可见", func(t *testing.T) {
		m := Message{SenderID: 7, AddressingMode: AddressingSingle, RecipientID: &recipient, IsDeleted: true}
		assert.False(t, m.VisibleTo(dept))
		assert.True(t, m.VisibleTo(admin))
		assert.False(t, m.VisibleToAsSender(dept))
		assert.False(t, m.VisibleToAsRecipient(dept))
	})

	t.Run("发件删除不影响收件视图", func(t *testing.T) {
		m := Message{SenderID: 3, AddressingMode: AddressingSingle, RecipientID: &recipient, IsDeletedBySender: true}
		assert.True(t, m.VisibleToAsRecipient(dept))
		assert.True(t, m.VisibleTo(dept))
		assert.False(t, m.VisibleToAsSender(Actor{ID: 3, Role: RoleDepartment}))
	})

	t.Run("收件删除只影响自己", func(t *testing.T) {
		m := Message{
			SenderID:              3,
			AddressingMode:        AddressingMulti,
			RecipientIDs:          Int64List{7, 8},
			DeletedByRecipientIDs: Int64List{7},
		}
		assert.False(t, m.VisibleToAsRecipient(dept))
		assert.True(t, m.VisibleToAsRecipient(Actor{ID: 8, Role: RoleDepartment}))
	})

	t.Run("自发自收任一视图未删即可见", func(t *testing.T) {
		m := Message{SenderID: 7, AddressingMode: AddressingSingle, RecipientID: &recipient, IsDeletedBySender: true}
		assert.True(t, m.VisibleTo(dept))

		m.DeletedByRecipientIDs = Int64List{7}
		assert.False(t, m.VisibleTo(dept))
	})
}

func TestInt64List(t *testing.T) {
	t.Run("增删幂等", func(t *testing.T) {
		l := Int64List{}
		l = l.Add(1)
		l = l.Add(1)
		assert.Equal(t, Int64List{1}, l)

		l = l.Remove(2)
		assert.Equal(t, Int64List{1}, l)
		l = l.Remove(1)
		assert.Empty(t, l)
	})

	t.Run("数据库往返保持内容", func(t *testing.T) {
		l := Int64List{3, 5}
		value, err := l.Value()
		assert.NoError(t, err)

		var scanned Int64List
		assert.NoError(t, scanned.Scan(value))
		assert.Equal(t, l, scanned)
	})
}
