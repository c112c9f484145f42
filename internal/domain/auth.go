package domain

import "github.com/golang-jwt/jwt/v5"

// Operator roles for the management API.
const (
	RoleAdmin    = "admin"    // full access, including refunds and plan deletion
	RoleOperator = "operator" // day-to-day subscription and customer operations
)

// OperatorClaims is the JWT payload issued to back-office staff.
type OperatorClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}
