package service

import (
	"errors"
	"strings"
	"time"

	"deptportal/backend/internal/auth"
	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/storage"
)

var (
	// ErrNameRequired 部门名称为空
	ErrNameRequired = errors.New("department name is required")
	// ErrSecretRequired 登录口令为空
	ErrSecretRequired = errors.New("department secret is required")
	// ErrParentNotFound 上级部门不存在
	ErrParentNotFound = errors.New("parent department not found")
	// ErrNestedSubdepartment 子部门下不能再建子部门
	ErrNestedSubdepartment = errors.New("subdepartment cannot have children")
)

// DepartmentService 封装部门建档与查询，建档仅管理员可执行。
type DepartmentService struct {
	store storage.Store
}

// NewDepartmentService 创建部门服务。
func NewDepartmentService(store storage.Store) *DepartmentService {
	return &DepartmentService{store: store}
}

// CreateDepartmentInput 定义建档输入。
type CreateDepartmentInput struct {
	Name                 string
	ParentID             *int64
	HasApprovalAuthority bool
	Secret               string
}

// Create 新建部门或子部门。层级最多两层。
func (s *DepartmentService) Create(actor domain.Actor, input CreateDepartmentInput) (*domain.Department, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, ErrNameRequired
	}
	if input.Secret == "" {
		return nil, ErrSecretRequired
	}

	if input.ParentID != nil {
		parent, err := s.store.GetDepartment(*input.ParentID)
		if err != nil {
			if errors.Is(err, storage.ErrDepartmentNotFound) {
				return nil, ErrParentNotFound
			}
			return nil, err
		}
		if parent.IsSubdepartment() {
			return nil, ErrNestedSubdepartment
		}
	}

	hash, err := auth.HashSecret(input.Secret)
	if err != nil {
		return nil, err
	}

	dept := &domain.Department{
		Name:                 input.Name,
		ParentID:             input.ParentID,
		HasApprovalAuthority: input.HasApprovalAuthority,
		SecretHash:           hash,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.store.SaveDepartment(dept); err != nil {
		return nil, err
	}
	return dept, nil
}

// Get 获取部门信息。
func (s *DepartmentService) Get(id int64) (*domain.Department, error) {
	return s.store.GetDepartment(id)
}

// List 返回全部部门，供寻址选择使用。
func (s *DepartmentService) List() ([]domain.Department, error) {
	return s.store.ListDepartments()
}

// ListSubdepartments 返回指定部门的子部门。
func (s *DepartmentService) ListSubdepartments(parentID int64) ([]domain.Department, error) {
	return s.store.ListSubdepartments(parentID)
}
