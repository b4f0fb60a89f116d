package auth

import "github.com/golang-jwt/jwt/v5"

// OperatorClaims are the only supported claims shape for operator tokens
// (the bearer tokens that authorize manual sync triggers and history reads).
type OperatorClaims struct {
	jwt.RegisteredClaims

	Operator string `json:"operator"`
	Scope    string `json:"scope"`
}

// Operator token scopes. Keep these stable; issued tokens carry them.
const (
	ScopeRead  = "read"  // preview and pass history
	ScopeSync  = "sync"  // trigger passes
	ScopeAdmin = "admin" // everything
)
