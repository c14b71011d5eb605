package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// 把各驱动的唯一键冲突统一成 gorm.ErrDuplicatedKey，
		// 草稿去重依赖这个翻译
		TranslateError: true,
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动建表。
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.Message{},
		&domain.Department{},
	)
}

// ========== Message Repository ==========

// SaveMessage 插入一条新消息。
func (s *Store) SaveMessage(message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if err := s.gormDB.Create(message).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrDuplicateDraft
		}
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetMessage 根据 ID 获取消息。
func (s *Store) GetMessage(id int64) (*domain.Message, error) {
	var message domain.Message
	err := s.gormDB.First(&message, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// GetMessageByDraftID 根据客户端草稿 ID 获取消息。
func (s *Store) GetMessageByDraftID(draftID string) (*domain.Message, error) {
	var message domain.Message
	err := s.gormDB.Where("client_draft_id = ?", draftID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message by draft id: %w", err)
	}
	return &message, nil
}

// UpdateMessage 整行覆盖更新消息。
func (s *Store) UpdateMessage(message *domain.Message) error {
	result := s.gormDB.Model(&domain.Message{}).Where("id = ?", message.ID).Select("*").Updates(message)
	if result.Error != nil {
		return fmt.Errorf("failed to update message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessagePermanently 物理删除消息行。
func (s *Store) DeleteMessagePermanently(id int64) error {
	result := s.gormDB.Delete(&domain.Message{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// ListBySender 返回指定发件部门的全部消息，新的在前。
func (s *Store) ListBySender(senderID int64) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gormDB.
		Where("sender_id = ?", senderID).
		Order("created_at DESC, id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages by sender: %w", err)
	}
	return messages, nil
}

// ListForRecipient 返回按寻址命中指定收件部门的全部消息，新的在前。
// multi 模式的收件人集合是 JSON 文本，SQL 只做粗筛，精确判断在内存完成。
func (s *Store) ListForRecipient(departmentID int64) ([]domain.Message, error) {
	var candidates []domain.Message
	err := s.gormDB.
		Where("addressing_mode = ?", domain.AddressingBroadcast).
		Or("addressing_mode = ? AND recipient_id = ?", domain.AddressingSingle, departmentID).
		Or("addressing_mode = ? AND recipient_ids LIKE ?", domain.AddressingMulti, fmt.Sprintf("%%%d%%", departmentID)).
		Order("created_at DESC, id DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for recipient: %w", err)
	}

	messages := make([]domain.Message, 0, len(candidates))
	for i := range candidates {
		if candidates[i].IsRecipient(departmentID) {
			messages = append(messages, candidates[i])
		}
	}
	return messages, nil
}

// ListTombstoned 返回已被管理员墓碑标记的全部消息，新的在前。
func (s *Store) ListTombstoned() ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gormDB.
		Where("is_deleted = ?", true).
		Order("created_at DESC, id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstoned messages: %w", err)
	}
	return messages, nil
}

// ========== Department Repository ==========

// SaveDepartment 保存部门信息。
func (s *Store) SaveDepartment(dept *domain.Department) error {
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = time.Now().UTC()
	}
	if err := s.gormDB.Save(dept).Error; err != nil {
		return fmt.Errorf("failed to save department: %w", err)
	}
	return nil
}

// GetDepartment 根据 ID 获取部门。
func (s *Store) GetDepartment(id int64) (*domain.Department, error) {
	var dept domain.Department
	err := s.gormDB.First(&dept, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDepartmentNotFound
		}
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &dept, nil
}

// ListDepartments 返回全部部门。
func (s *Store) ListDepartments() ([]domain.Department, error) {
	var depts []domain.Department
	if err := s.gormDB.Order("id ASC").Find(&depts).Error; err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return depts, nil
}

// ListSubdepartments 返回指定部门的全部子部门。
func (s *Store) ListSubdepartments(parentID int64) ([]domain.Department, error) {
	var depts []domain.Department
	err := s.gormDB.Where("parent_id = ?", parentID).Order("id ASC").Find(&depts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subdepartments: %w", err)
	}
	return depts, nil
}

// ========== 限流 ==========

// IncrementRateLimit SQL 存储不承担限流计数，交由 Redis 或内存存储。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	return 0, errors.New("rate limiting not supported in SQL storage")
}

// GetRateLimit 同上。
func (s *Store) GetRateLimit(key string) (int64, error) {
	return 0, nil
}

// ========== 工具方法 ==========

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}
