package auth

var roleAuthorities = map[UserRole][]string{
	RoleUser:    {"READ:USER", "READ:CUSTOMER"},
	RoleManager: {"READ:USER", "READ:CUSTOMER", "UPDATE:USER", "UPDATE:CUSTOMER"},
	RoleAdmin: {
		"READ:USER", "READ:CUSTOMER",
		"CREATE:USER", "CREATE:CUSTOMER",
		"UPDATE:USER", "UPDATE:CUSTOMER",
		"DELETE:USER", "DELETE:CUSTOMER",
	},
}

// AuthoritiesForRole expands a role into its authority strings. Unknown
// roles get the default user set so a bad row never yields an empty grant.
func AuthoritiesForRole(role UserRole) []string {
	grants, ok := roleAuthorities[role]
	if !ok {
		grants = roleAuthorities[RoleUser]
	}
	return append([]string(nil), grants...)
}
