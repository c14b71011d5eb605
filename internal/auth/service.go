package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDepartmentNotFound 部门不存在
	ErrDepartmentNotFound = errors.New("department not found")
)

// Service 认证服务。部门以编号加口令登录，
// 管理员口令来自配置，不落库。
type Service struct {
	deptRepo        storage.DepartmentRepository
	adminSecretHash string
}

// NewService 创建认证服务
func NewService(deptRepo storage.DepartmentRepository, adminSecretHash string) *Service {
	return &Service{
		deptRepo:        deptRepo,
		adminSecretHash: adminSecretHash,
	}
}

// LoginInput 登录输入
type LoginInput struct {
	DepartmentID int64
	Secret       string
}

// Login 部门登录，成功时返回操作者视图。
func (s *Service) Login(input LoginInput) (domain.Actor, error) {
	dept, err := s.deptRepo.GetDepartment(input.DepartmentID)
	if err != nil {
		if errors.Is(err, storage.ErrDepartmentNotFound) {
			// 不区分"部门不存在"与"口令错误"，避免枚举
			return domain.Actor{}, ErrInvalidCredentials
		}
		return domain.Actor{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(dept.SecretHash), []byte(input.Secret)); err != nil {
		return domain.Actor{}, ErrInvalidCredentials
	}

	return dept.Actor(), nil
}

// LoginAdmin 管理员登录。管理员不是部门，ID 固定为 0。
func (s *Service) LoginAdmin(secret string) (domain.Actor, error) {
	if s.adminSecretHash == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminSecretHash), []byte(secret)); err != nil {
		return domain.Actor{}, ErrInvalidCredentials
	}
	return domain.Actor{ID: 0, Role: domain.RoleAdmin}, nil
}

// HashSecret 生成口令哈希，建档与改密时使用。
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
