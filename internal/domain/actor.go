package domain

// Role 操作者角色。
type Role string

const (
	// RoleDepartment 部门账号（含子部门）
	RoleDepartment Role = "department"
	// RoleAdmin 平台管理员
	RoleAdmin Role = "admin"
)

// Actor 表示一次请求的操作者，由认证层解析后注入，业务层只读。
type Actor struct {
	ID                 int64 `json:"id"`
	Role               Role  `json:"role"`
	IsSubdepartment    bool  `json:"isSubdepartment"`
	ParentDepartmentID int64 `json:"parentDepartmentId,omitempty"`
}

// IsAdmin 判断操作者是否为平台管理员。
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
