package shared

// Cash close permissions.
const (
	PermCashCloseView   = "cash_close.view"
	PermCashCloseClose  = "cash_close.close"
	PermCashCloseAdmin  = "cash_close.admin"
	PermCashCloseExport = "cash_close.export"
)

// Staff roles forwarded by the gateway.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

var roleScopes = map[string][]string{
	RoleAdmin:   {PermCashCloseView, PermCashCloseClose, PermCashCloseAdmin, PermCashCloseExport},
	RoleManager: {PermCashCloseView, PermCashCloseClose, PermCashCloseExport},
	RoleCashier: {PermCashCloseView, PermCashCloseClose},
}

// RoleAllows reports whether role carries perm. Unknown roles carry nothing.
func RoleAllows(role, perm string) bool {
	for _, p := range roleScopes[role] {
		if p == perm {
			return true
		}
	}
	return false
}
