package accounts

import (
	"strings"
	"time"
)

// Permission is a bit in an account's permission field.
type Permission int64

const (
	PermissionManageAccounts Permission = 1 << iota
	PermissionManageGroups
	PermissionManageGroupAssignments
	PermissionManageCharts
	PermissionManageChartMetadata
	PermissionModerateAccounts
	PermissionModerateNominators
	PermissionModerateCharts
	PermissionModerateComments
	PermissionNominateCharts
	PermissionDisqualifyCharts
)

// Account is the read-mostly view of a community member.
type Account struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Username    string     `gorm:"column:username;size:64;not null;uniqueIndex"`
	Permissions Permission `gorm:"column:permissions;not null;default:0"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// Has reports whether every bit of permission is granted.
func (a Account) Has(permission Permission) bool {
	return permission != 0 && a.Permissions&permission == permission
}

func normalizeUsername(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
