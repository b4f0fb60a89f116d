package rbac

import "callsync/internal/auth"

// IsAdmin reports whether scope bypasses every scope check.
func IsAdmin(scope string) bool { return scope == auth.ScopeAdmin }

// implies lists the scopes a granted scope also satisfies.
// A sync token may read what it writes.
var implies = map[string][]string{
	auth.ScopeSync: {auth.ScopeRead},
}

// Allows reports whether a token with granted scope may access a route
// requiring required.
func Allows(granted, required string) bool {
	if granted == "" {
		return false
	}
	if IsAdmin(granted) || granted == required {
		return true
	}
	for _, s := range implies[granted] {
		if s == required {
			return true
		}
	}
	return false
}
