package connectivity

import (
	"sync"

	"go.uber.org/zap"
)

// Monitor 跟踪与服务端的连通状态。
//
// 状态由实际请求的成败驱动，不做主动探测：
// 每次请求成功调 ReportSuccess，网络层面失败调 ReportFailure。
// 订阅者只在 离线->在线 的边沿收到通知，用于触发一次补同步。
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	subscribers []chan struct{}
	logger      *zap.Logger
}

// NewMonitor 创建连通性监视器，初始状态为在线。
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		online: true,
		logger: logger,
	}
}

// Online 当前是否在线。
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ReportSuccess 记录一次成功请求。若此前离线，通知全部订阅者。
func (m *Monitor) ReportSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online {
		return
	}
	m.online = true
	m.logger.Info("connectivity restored")

	for _, ch := range m.subscribers {
		// 非阻塞发送，订阅者没消费完上一个边沿就跳过
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ReportFailure 记录一次网络层面的失败请求。
func (m *Monitor) ReportFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.online {
		return
	}
	m.online = false
	m.logger.Warn("connectivity lost")
}

// Subscribe 订阅 离线->在线 边沿通知。
func (m *Monitor) Subscribe() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan struct{}, 1)
	m.subscribers = append(m.subscribers, ch)
	return ch
}
