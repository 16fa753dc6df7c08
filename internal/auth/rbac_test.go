package auth

import "testing"

func TestHasRolePermission_Owner(t *testing.T) {
	perms := []Permission{
		PermSettingsRead, PermSettingsWrite, PermBackupWrite, PermBackupRun,
		PermReportExport, PermIncidentDetect, PermPlaybookWrite, PermPlaybookRun,
	}
	for _, perm := range perms {
		if !HasRolePermission(RoleOwner, perm) {
			t.Errorf("owner should have %s", perm)
		}
	}
}

func TestHasRolePermission_Analyst(t *testing.T) {
	allowed := []Permission{PermIncidentWrite, PermIncidentDetect, PermPlaybookRun, PermReportExport, PermBackupRead}
	for _, perm := range allowed {
		if !HasRolePermission(RoleAnalyst, perm) {
			t.Errorf("analyst should have %s", perm)
		}
	}
	denied := []Permission{PermSettingsWrite, PermBackupWrite, PermPlaybookWrite}
	for _, perm := range denied {
		if HasRolePermission(RoleAnalyst, perm) {
			t.Errorf("analyst should not have %s", perm)
		}
	}
}

func TestHasRolePermission_Viewer(t *testing.T) {
	if !HasRolePermission(RoleViewer, PermIncidentRead) {
		t.Error("viewer should read incidents")
	}
	for _, perm := range []Permission{PermReportExport, PermAlertWrite, PermSettingsWrite} {
		if HasRolePermission(RoleViewer, perm) {
			t.Errorf("viewer should not have %s", perm)
		}
	}
}

func TestHasRolePermission_UnknownRole(t *testing.T) {
	if HasRolePermission(Role("intruder"), PermIncidentRead) {
		t.Error("unknown role should have no permissions")
	}
	if err := RequireRolePermission(Role(""), PermIncidentRead); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRole_AtLeast(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleOwner, RoleAdmin, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleAnalyst, RoleAdmin, false},
		{RoleMember, RoleAnalyst, false},
		{RoleViewer, RoleViewer, true},
		{Role("ghost"), RoleViewer, false},
	}
	for _, tt := range tests {
		if got := tt.role.AtLeast(tt.min); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.role, tt.min, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	if err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err != ErrUnknownRole {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}
