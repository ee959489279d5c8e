package gate

import contractx "github.com/kwkraus/fleet-assistant/agent/contract"

// Permission ids checked by the gate. The table is static; nothing
// mutates it at runtime.
const (
	PermFleetQuery  = "fleet:query"
	PermFleetExport = "fleet:export"
	PermFleetAdmin  = "fleet:admin"
)

var permissions = []contractx.Permission{
	{ID: PermFleetQuery, Category: "query", Elevated: false},
	{ID: PermFleetExport, Category: "query", Elevated: false},
	{ID: PermFleetAdmin, Category: "admin", Elevated: true},
}

var permissionIndex = func() map[string]contractx.Permission {
	idx := make(map[string]contractx.Permission, len(permissions))
	for _, p := range permissions {
		idx[p.ID] = p
	}
	return idx
}()

func PermissionByID(id string) (contractx.Permission, bool) {
	p, ok := permissionIndex[id]
	return p, ok
}

// Permissions returns a copy of the static permission table.
func Permissions() []contractx.Permission {
	out := make([]contractx.Permission, len(permissions))
	copy(out, permissions)
	return out
}
