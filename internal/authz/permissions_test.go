package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRolePermissions_InheritsTransitively(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("base", []string{"a.read"}, nil, false))
	require.NoError(t, e.CreateRole("mid", []string{"a.write"}, []string{"base"}, false))
	require.NoError(t, e.CreateRole("top", []string{"a.delete"}, []string{"mid"}, false))

	perms := e.GetRolePermissions("top")
	assert.Contains(t, perms, "a.read")
	assert.Contains(t, perms, "a.write")
	assert.Contains(t, perms, "a.delete")
}

func TestGetRolePermissions_BreaksCyclesViaVisitedSet(t *testing.T) {
	e := New()
	// construct a cycle by bypassing CreateRole's cycle check directly
	e.roles["x"] = &Role{Name: "x", Permissions: toSet([]string{"x.perm"}), InheritsFrom: toSet([]string{"y"})}
	e.roles["y"] = &Role{Name: "y", Permissions: toSet([]string{"y.perm"}), InheritsFrom: toSet([]string{"x"})}

	assert.NotPanics(t, func() {
		perms := e.GetRolePermissions("x")
		assert.Contains(t, perms, "x.perm")
		assert.Contains(t, perms, "y.perm")
	})
}

func TestCreateRole_RejectsCycle(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("a", nil, nil, false))
	require.NoError(t, e.CreateRole("b", nil, []string{"a"}, false))
	err := e.CreateRole("a2", nil, []string{"b"}, false)
	require.NoError(t, err) // sanity: no cycle yet since a2 is new

	// Now attempt to make "a" inherit from "b" indirectly would cycle;
	// simulate by trying to create a role "a" again is rejected for a
	// different reason (duplicate), so instead verify direct self-cycle.
	err = e.CreateRole("c", nil, []string{"c"}, false)
	require.Error(t, err)
}

func TestDeleteRole_RejectsWhenReferenced(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("base", nil, nil, false))
	require.NoError(t, e.CreateRole("child", nil, []string{"base"}, false))

	err := e.DeleteRole("base")
	require.Error(t, err)
}

func TestDeleteRole_RejectsSystemRole(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("sys", nil, nil, true))
	err := e.DeleteRole("sys")
	require.Error(t, err)
}

func TestCheckPermission_WildcardMatchesPrefix(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("svc", []string{"system.*"}, nil, false))

	subject := Subject{Roles: []string{"svc"}}
	assert.True(t, e.CheckPermission(subject, "system.anything"))
	assert.False(t, e.CheckPermission(subject, "other.thing"))
}

func TestCheckAnyAllPermissions(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("r", []string{"a.read", "a.write"}, nil, false))
	subject := Subject{Roles: []string{"r"}}

	assert.True(t, e.CheckAnyPermission(subject, []string{"missing", "a.read"}))
	assert.True(t, e.CheckAllPermissions(subject, []string{"a.read", "a.write"}))
	assert.False(t, e.CheckAllPermissions(subject, []string{"a.read", "a.delete"}))
}

func TestUpdateRolePermissions_ClearsCache(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateRole("r", []string{"a.read"}, nil, false))
	assert.Contains(t, e.GetRolePermissions("r"), "a.read")

	require.NoError(t, e.UpdateRolePermissions("r", []string{"a.write"}))
	perms := e.GetRolePermissions("r")
	assert.Contains(t, perms, "a.write")
	assert.NotContains(t, perms, "a.read")
}

func TestDirectPermissionsAreHonoredWithoutRoles(t *testing.T) {
	e := New()
	subject := Subject{DirectPermissions: []string{"override.granted"}}
	assert.True(t, e.CheckPermission(subject, "override.granted"))
}
