package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitor(t *testing.T) {
	t.Run("初始在线且成功不产生边沿", func(t *testing.T) {
		m := NewMonitor(nil)
		edge := m.Subscribe()

		assert.True(t, m.Online())
		m.ReportSuccess()
		assert.Empty(t, edge)
	})

	t.Run("只有离线到在线的迁移触发通知", func(t *testing.T) {
		m := NewMonitor(nil)
		edge := m.Subscribe()

		m.ReportFailure()
		assert.False(t, m.Online())
		assert.Empty(t, edge)

		m.ReportFailure()
		assert.Empty(t, edge)

		m.ReportSuccess()
		assert.True(t, m.Online())
		assert.Len(t, edge, 1)

		// 在线期间的后续成功不再通知
		<-edge
		m.ReportSuccess()
		assert.Empty(t, edge)
	})

	t.Run("多个订阅者都收到边沿", func(t *testing.T) {
		m := NewMonitor(nil)
		first := m.Subscribe()
		second := m.Subscribe()

		m.ReportFailure()
		m.ReportSuccess()

		assert.Len(t, first, 1)
		assert.Len(t, second, 1)
	})

	t.Run("未消费的边沿不阻塞上报", func(t *testing.T) {
		m := NewMonitor(nil)
		edge := m.Subscribe()

		for i := 0; i < 3; i++ {
			m.ReportFailure()
			m.ReportSuccess()
		}
		assert.Len(t, edge, 1)
	})
}
