// Package auth verifies bearer tokens and decides what a caller's role may do.
package auth

import (
	"errors"
	"strings"
)

// Permission errors.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownRole      = errors.New("unknown role")
)

// Role is a caller's role within a tenant.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleMember  Role = "member"
	RoleViewer  Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer:  1,
	RoleMember:  2,
	RoleAnalyst: 3,
	RoleAdmin:   4,
	RoleOwner:   5,
}

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below everything.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	return ok && rank >= roleRank[min]
}

// Permission defines an action that can be performed.
type Permission string

const (
	// Settings permissions
	PermSettingsRead  Permission = "settings:read"
	PermSettingsWrite Permission = "settings:write"

	// Backup permissions
	PermBackupRead  Permission = "backup:read"
	PermBackupWrite Permission = "backup:write"
	PermBackupRun   Permission = "backup:run"

	// Report permissions
	PermReportExport Permission = "report:export"

	// Incident permissions
	PermIncidentRead   Permission = "incident:read"
	PermIncidentWrite  Permission = "incident:write"
	PermIncidentDetect Permission = "incident:detect"
	PermAlertRead      Permission = "alert:read"
	PermAlertWrite     Permission = "alert:write"

	// Recommendation permissions
	PermRecommendationRead     Permission = "recommendation:read"
	PermRecommendationGenerate Permission = "recommendation:generate"
	PermRecommendationFeedback Permission = "recommendation:feedback"

	// Playbook permissions
	PermPlaybookRead  Permission = "playbook:read"
	PermPlaybookWrite Permission = "playbook:write"
	PermPlaybookRun   Permission = "playbook:run"
)

var viewerPermissions = []Permission{
	PermSettingsRead, PermBackupRead, PermIncidentRead, PermAlertRead,
	PermRecommendationRead, PermPlaybookRead,
}

var memberPermissions = append([]Permission{
	PermReportExport, PermAlertWrite, PermRecommendationFeedback,
}, viewerPermissions...)

var analystPermissions = append([]Permission{
	PermIncidentWrite, PermIncidentDetect, PermRecommendationGenerate,
	PermPlaybookRun, PermBackupRun,
}, memberPermissions...)

var adminPermissions = append([]Permission{
	PermSettingsWrite, PermBackupWrite, PermPlaybookWrite,
}, analystPermissions...)

// rolePermissions maps roles to their allowed permissions.
var rolePermissions = map[Role][]Permission{
	RoleOwner:   adminPermissions,
	RoleAdmin:   adminPermissions,
	RoleAnalyst: analystPermissions,
	RoleMember:  memberPermissions,
	RoleViewer:  viewerPermissions,
}

// HasRolePermission checks if a role has the given permission.
func HasRolePermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// RequireRolePermission returns ErrPermissionDenied when role lacks perm.
func RequireRolePermission(role Role, perm Permission) error {
	if !HasRolePermission(role, perm) {
		return ErrPermissionDenied
	}
	return nil
}
