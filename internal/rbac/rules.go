package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
	},
	"trainer": {
		"exam:publish",
		"attempt:view-own",
		"attempt:view-all",
	},
	// attempt:manage (mutate other learners' attempts) is deliberately not
	// granted to trainers; only the admin wildcard carries it.
	"admin": {
		"*", // everything
	},
}
