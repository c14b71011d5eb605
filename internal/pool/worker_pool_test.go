package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("提交的任务全部被执行", func(t *testing.T) {
		p := NewWorkerPool(4, 16, nil)
		p.Start(context.Background())

		var done int64
		for i := 0; i < 20; i++ {
			p.Submit(func() { atomic.AddInt64(&done, 1) })
		}
		p.Stop()

		assert.Equal(t, int64(20), done)
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.Start(context.Background())

		var done int64
		p.Submit(func() { panic("boom") })
		p.Submit(func() { atomic.AddInt64(&done, 1) })
		p.Stop()

		assert.Equal(t, int64(1), done)
	})

	t.Run("队列满时尝试提交立即返回", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		// 不启动 worker，队列只能容纳一个任务

		require.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("取消上下文后工作协程退出", func(t *testing.T) {
		p := NewWorkerPool(2, 4, nil)
		ctx, cancel := context.WithCancel(context.Background())
		p.Start(ctx)
		cancel()

		stopped := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatal("工作协程没有随上下文退出")
		}
	})
}
