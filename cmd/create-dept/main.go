package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"deptportal/backend/internal/auth"
	"deptportal/backend/internal/config"
	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/logger"
	sqlstore "deptportal/backend/internal/storage/sql"
)

// main 直连数据库创建部门，用于环境初始化。
//
// 平台上线时还没有管理端可用，至少第一批顶级部门要靠它建档。
// 也可以只生成口令哈希（-hash-only），填到 DEPTPORTAL_ADMIN_SECRET_HASH。
func main() {
	var (
		name      = flag.String("name", "", "部门名称")
		parentID  = flag.Int64("parent", 0, "上级部门编号，0 表示顶级部门")
		approver  = flag.Bool("approver", false, "是否具有审批权")
		secret    = flag.String("secret", "", "登录口令")
		hashOnly  = flag.Bool("hash-only", false, "只输出口令的 bcrypt 哈希，不建档")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "用法: create-dept -name <名称> -secret <口令> [-parent <编号>] [-approver]")
		fmt.Fprintln(os.Stderr, "      create-dept -hash-only -secret <口令>")
		os.Exit(2)
	}

	hash, err := auth.HashSecret(*secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to hash secret:", err)
		os.Exit(1)
	}

	if *hashOnly {
		fmt.Println(hash)
		return
	}

	if *name == "" {
		fmt.Fprintln(os.Stderr, "部门名称不能为空")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Development)
	defer log.Sync()

	if cfg.Database.Type == "" {
		log.Fatal("database.type is not set; memory storage cannot be seeded from a separate process")
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	dept := &domain.Department{
		Name:                 *name,
		HasApprovalAuthority: *approver,
		SecretHash:           hash,
	}
	if *parentID > 0 {
		parent, err := store.GetDepartment(*parentID)
		if err != nil {
			log.Fatal("parent department not found", zap.Int64("parentID", *parentID))
		}
		if parent.ParentID != nil {
			log.Fatal("subdepartments cannot have their own subdepartments")
		}
		dept.ParentID = parentID
	}

	if err := store.SaveDepartment(dept); err != nil {
		log.Fatal("failed to create department", zap.Error(err))
	}

	log.Info("department created",
		zap.Int64("id", dept.ID),
		zap.String("name", dept.Name),
		zap.Bool("approver", dept.HasApprovalAuthority),
	)
}
