package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"deptportal/backend/internal/storage"
)

// Checker 健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	extras map[string]healthcheck.Check
	logger *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		extras: make(map[string]healthcheck.Check),
		logger: logger,
	}

	// 存储连接检查
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	return hc
}

// AddCheck 追加一项存活检查（Redis、SMTP 网关等）。
func (hc *Checker) AddCheck(name string, check healthcheck.Check) {
	hc.extras[name] = check
	hc.health.AddLivenessCheck(name, check)
}

// Handler 返回健康检查处理器，挂载 /live 与 /ready。
func (hc *Checker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行一轮健康检查，返回各项结果。
func (hc *Checker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	for name, check := range hc.extras {
		if err := check(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// DatabaseCheck 数据库连接检查
func DatabaseCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}
