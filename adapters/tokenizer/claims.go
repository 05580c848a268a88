package tokenizer

import "github.com/golang-jwt/jwt/v5"

// OperatorClaims are the claims of a control-surface access token
type OperatorClaims struct {
	jwt.RegisteredClaims
	// Scope limits the token to read-only access when set to ScopeRead.
	Scope string `json:"scope,omitempty"`
}
