package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the coarse-grained classification of an identity.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleExerciseTracker Role = "exercise_tracker"
	RoleWellnessTracker Role = "wellness_tracker"
)

// DefaultRole is assigned to self-registered identities.
const DefaultRole = RoleExerciseTracker

// AllRoles lists every known role. Adding a role means adding it here and
// giving it a row in roleTable.
var AllRoles = []Role{RoleAdmin, RoleExerciseTracker, RoleWellnessTracker}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole normalises s and returns the matching role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Module is a resource category guarded by permissions.
type Module string

const (
	ModuleActivities     Module = "activities"
	ModuleGoals          Module = "goals"
	ModuleDashboard      Module = "dashboard"
	ModuleReports        Module = "reports"
	ModuleProfile        Module = "profile"
	ModuleUserManagement Module = "user_management"
	ModuleNutrition      Module = "nutrition"
	ModuleSleep          Module = "sleep"
	ModuleMood           Module = "mood"
	ModuleMeditation     Module = "meditation"
	ModuleHydration      Module = "hydration"
)

// AllModules lists every guarded module.
var AllModules = []Module{
	ModuleActivities, ModuleGoals, ModuleDashboard, ModuleReports, ModuleProfile,
	ModuleUserManagement, ModuleNutrition, ModuleSleep, ModuleMood,
	ModuleMeditation, ModuleHydration,
}

// Action is an operation on a module.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AllActions lists every action.
var AllActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Permission is a module/action pair.
type Permission struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}

// String renders the permission as "module:action".
func (p Permission) String() string {
	return string(p.Module) + ":" + string(p.Action)
}

// ParsePermission parses a "module:action" pair and validates both halves.
func ParsePermission(module, action string) (Permission, error) {
	m := Module(strings.ToLower(strings.TrimSpace(module)))
	a := Action(strings.ToLower(strings.TrimSpace(action)))
	if !m.IsValid() || !a.IsValid() {
		return Permission{}, fmt.Errorf("%w: unknown permission %s:%s", ErrInvalidInput, module, action)
	}
	return Permission{Module: m, Action: a}, nil
}

// IsValid reports whether m is a known module.
func (m Module) IsValid() bool {
	for _, known := range AllModules {
		if m == known {
			return true
		}
	}
	return false
}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

func crud(modules ...Module) []Permission {
	out := make([]Permission, 0, len(modules)*len(AllActions))
	for _, m := range modules {
		for _, a := range AllActions {
			out = append(out, Permission{Module: m, Action: a})
		}
	}
	return out
}

func allPermissions() []Permission {
	return crud(AllModules...)
}

// roleTable is the single source of truth for fixed role permissions.
// Admin holds the full module x action cross product.
var roleTable = map[Role][]Permission{
	RoleAdmin: allPermissions(),
	RoleExerciseTracker: append(crud(ModuleActivities, ModuleGoals),
		Permission{ModuleDashboard, ActionRead},
		Permission{ModuleReports, ActionRead},
		Permission{ModuleProfile, ActionRead},
		Permission{ModuleProfile, ActionUpdate},
	),
	RoleWellnessTracker: append(crud(ModuleNutrition, ModuleSleep, ModuleMood, ModuleMeditation, ModuleHydration, ModuleGoals),
		Permission{ModuleDashboard, ActionRead},
		Permission{ModuleReports, ActionRead},
		Permission{ModuleProfile, ActionRead},
		Permission{ModuleProfile, ActionUpdate},
	),
}

// PermissionsForRole returns a copy of the fixed permission set of role.
// Unknown roles yield nil.
func PermissionsForRole(role Role) []Permission {
	perms, ok := roleTable[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// RoleAllows reports whether role's fixed set contains perm.
func RoleAllows(role Role, perm Permission) bool {
	if role == RoleAdmin {
		return true
	}
	for _, p := range roleTable[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// SetRolePermission exists so management surfaces have something to call;
// the table is compiled in and every edit is rejected.
func SetRolePermission(Role, Permission, bool) error {
	return ErrRoleTableImmutable
}

// SortPermissions orders permissions by module then action, in place.
func SortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Module != perms[j].Module {
			return perms[i].Module < perms[j].Module
		}
		return perms[i].Action < perms[j].Action
	})
}

// PermissionStrings renders perms as "module:action" strings.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.String())
	}
	return out
}
