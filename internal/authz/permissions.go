// Package authz implements the role/permission graph: role inheritance
// closure, wildcard permission matching, and subject permission checks.
package authz

import (
	"strings"
	"sync"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
)

// Permission identity is "resource.action", e.g. "agent.execute".
type Permission struct {
	Name        string
	Description string
	IsSystem    bool
}

// Role has a direct permission set and an inherits-from set naming other
// roles whose permissions it picks up transitively.
type Role struct {
	Name           string
	Permissions    map[string]struct{}
	InheritsFrom   map[string]struct{}
	IsSystem       bool
}

// Subject is anything a permission check is evaluated against: a user with
// roles, or a service/API-key principal with direct permissions only.
type Subject struct {
	Roles             []string
	DirectPermissions []string
}

// Engine owns the role/permission graph and the memoized closure cache.
type Engine struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
	roles       map[string]*Role
	closureCache map[string]map[string]struct{}
}

func New() *Engine {
	return &Engine{
		permissions:  make(map[string]*Permission),
		roles:        make(map[string]*Role),
		closureCache: make(map[string]map[string]struct{}),
	}
}

// CreatePermission registers a new permission. System permissions are seeded
// at startup and are immutable thereafter.
func (e *Engine) CreatePermission(name, description string, isSystem bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.permissions[name]; exists {
		return svcerrors.BadRequest("permission already exists: " + name)
	}
	e.permissions[name] = &Permission{Name: name, Description: description, IsSystem: isSystem}
	return nil
}

// DeletePermission removes a permission. System permissions cannot be deleted.
func (e *Engine) DeletePermission(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.permissions[name]
	if !ok {
		return svcerrors.NotFound(name)
	}
	if p.IsSystem {
		return svcerrors.PermissionDenied("cannot delete system permission")
	}
	delete(e.permissions, name)
	e.clearCacheLocked()
	return nil
}

// CreateRole registers a new role. The inherits-from set is validated against
// the current role graph to reject cycles before insertion.
func (e *Engine) CreateRole(name string, permissions []string, inheritsFrom []string, isSystem bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.roles[name]; exists {
		return svcerrors.BadRequest("role already exists: " + name)
	}
	if err := e.wouldCreateCycleLocked(name, inheritsFrom); err != nil {
		return err
	}

	role := &Role{
		Name:         name,
		Permissions:  toSet(permissions),
		InheritsFrom: toSet(inheritsFrom),
		IsSystem:     isSystem,
	}
	e.roles[name] = role
	e.clearCacheLocked()
	return nil
}

// UpdateRolePermissions replaces a role's direct permission set. System
// roles reject mutation.
func (e *Engine) UpdateRolePermissions(name string, permissions []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	role, ok := e.roles[name]
	if !ok {
		return svcerrors.NotFound(name)
	}
	if role.IsSystem {
		return svcerrors.PermissionDenied("cannot modify system role")
	}
	role.Permissions = toSet(permissions)
	e.clearCacheLocked()
	return nil
}

// DeleteRole removes a role. Rejected if the role is system-marked or if any
// other role's inherits-from set still references it.
func (e *Engine) DeleteRole(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	role, ok := e.roles[name]
	if !ok {
		return svcerrors.NotFound(name)
	}
	if role.IsSystem {
		return svcerrors.PermissionDenied("cannot delete system role")
	}
	for otherName, other := range e.roles {
		if otherName == name {
			continue
		}
		if _, refs := other.InheritsFrom[name]; refs {
			return svcerrors.BadRequest("role is referenced by inherits_from of: " + otherName)
		}
	}
	delete(e.roles, name)
	e.clearCacheLocked()
	return nil
}

// GetRolePermissions returns the effective (closure) permission set for a
// role: its own permissions union every permission reachable via
// inherits_from, computed by DFS with a visited set to break cycles, and
// memoized until the next mutation.
func (e *Engine) GetRolePermissions(roleName string) map[string]struct{} {
	e.mu.RLock()
	if cached, ok := e.closureCache[roleName]; ok {
		e.mu.RUnlock()
		return cached
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	// re-check under write lock in case another goroutine populated it
	if cached, ok := e.closureCache[roleName]; ok {
		return cached
	}

	result := make(map[string]struct{})
	visited := make(map[string]struct{})
	var collect func(name string)
	collect = func(name string) {
		if _, seen := visited[name]; seen {
			return
		}
		visited[name] = struct{}{}
		role, ok := e.roles[name]
		if !ok {
			return
		}
		for perm := range role.Permissions {
			result[perm] = struct{}{}
		}
		for parent := range role.InheritsFrom {
			collect(parent)
		}
	}
	collect(roleName)

	e.closureCache[roleName] = result
	return result
}

// GetUserPermissions is the union of effective permissions over every role
// a subject holds, plus its direct permissions.
func (e *Engine) GetUserPermissions(subject Subject) map[string]struct{} {
	result := make(map[string]struct{})
	for _, roleName := range subject.Roles {
		for perm := range e.GetRolePermissions(roleName) {
			result[perm] = struct{}{}
		}
	}
	for _, perm := range subject.DirectPermissions {
		result[perm] = struct{}{}
	}
	return result
}

// CheckPermission reports whether a subject holds permission, directly,
// via role inheritance, or via a "resource.*" wildcard grant.
func (e *Engine) CheckPermission(subject Subject, permission string) bool {
	perms := e.GetUserPermissions(subject)
	return hasPermission(perms, permission)
}

// CheckAnyPermission reports whether a subject holds at least one of the
// given permissions.
func (e *Engine) CheckAnyPermission(subject Subject, permissions []string) bool {
	perms := e.GetUserPermissions(subject)
	for _, p := range permissions {
		if hasPermission(perms, p) {
			return true
		}
	}
	return false
}

// CheckAllPermissions reports whether a subject holds every given permission.
func (e *Engine) CheckAllPermissions(subject Subject, permissions []string) bool {
	perms := e.GetUserPermissions(subject)
	for _, p := range permissions {
		if !hasPermission(perms, p) {
			return false
		}
	}
	return true
}

// hasPermission matches an exact permission name, or a wildcard
// "resource.*" held in perms against any "resource.action" permission
// sharing that resource.
func hasPermission(perms map[string]struct{}, want string) bool {
	if _, ok := perms[want]; ok {
		return true
	}
	idx := strings.Index(want, ".")
	if idx < 0 {
		return false
	}
	wildcard := want[:idx] + ".*"
	_, ok := perms[wildcard]
	return ok
}

func (e *Engine) wouldCreateCycleLocked(newRole string, inheritsFrom []string) error {
	visited := map[string]struct{}{newRole: {}}
	var dfs func(name string) bool
	dfs = func(name string) bool {
		if name == newRole {
			return true
		}
		if _, seen := visited[name]; seen {
			return false
		}
		visited[name] = struct{}{}
		role, ok := e.roles[name]
		if !ok {
			return false
		}
		for parent := range role.InheritsFrom {
			if dfs(parent) {
				return true
			}
		}
		return false
	}
	for _, parent := range inheritsFrom {
		if dfs(parent) {
			return svcerrors.BadRequest("inherits_from would introduce a cycle via: " + parent)
		}
	}
	return nil
}

func (e *Engine) clearCacheLocked() {
	e.closureCache = make(map[string]map[string]struct{})
}

func toSet(values []string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// SeedDefaultRoles installs the illustrative default role set recovered
// from original_source's permission manager: admin, user, developer,
// readonly, api_user, internal_service. Not system-marked, so an operator
// can extend or override them after boot.
func (e *Engine) SeedDefaultRoles() {
	_ = e.CreateRole("readonly", []string{"agent.read", "knowledge.read", "model.read"}, nil, false)
	_ = e.CreateRole("user", []string{"agent.execute", "knowledge.read"}, []string{"readonly"}, false)
	_ = e.CreateRole("developer", []string{"agent.create", "model.deploy"}, []string{"user"}, false)
	_ = e.CreateRole("api_user", []string{"agent.execute", "model.invoke"}, nil, false)
	_ = e.CreateRole("internal_service", []string{"system.*"}, nil, false)
	_ = e.CreateRole("admin", []string{"agent.*", "knowledge.*", "model.*", "system.manage"}, []string{"developer"}, false)
}
