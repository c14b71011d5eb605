package domain

import "time"

// Department 表示一个部门或子部门。
type Department struct {
	ID                   int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name                 string    `json:"name" gorm:"type:varchar(255);not null"`
	ParentID             *int64    `json:"parentId,omitempty" gorm:"index"` // 为空表示一级部门
	HasApprovalAuthority bool      `json:"hasApprovalAuthority" gorm:"default:false"`
	SecretHash           string    `json:"-" gorm:"type:varchar(255)"` // 登录口令哈希
	CreatedAt            time.Time `json:"createdAt"`
}

// IsSubdepartment 判断是否为子部门。
func (d *Department) IsSubdepartment() bool {
	return d.ParentID != nil
}

// Actor 将部门转换为操作者视图。
func (d *Department) Actor() Actor {
	a := Actor{
		ID:   d.ID,
		Role: RoleDepartment,
	}
	if d.ParentID != nil {
		a.IsSubdepartment = true
		a.ParentDepartmentID = *d.ParentID
	}
	return a
}
