package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"deptportal/backend/internal/config"
	"deptportal/backend/internal/logger"
	sqlstore "deptportal/backend/internal/storage/sql"
)

// main 对配置的数据库执行表结构迁移后退出。
// 服务启动时也会自动迁移，这个工具用于部署流水线里单独跑迁移。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Development)
	defer log.Sync()

	if cfg.Database.Type == "" {
		log.Fatal("database.type is not set, nothing to migrate")
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	defer store.Close()

	log.Info("migration completed", zap.String("type", cfg.Database.Type))
}
