package middleware

// identity.go holds the context keys shared by the middleware in this
// package and the helper that names the caller of a request.

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ctxOperatorID = "operator_id"
	ctxRole       = "role"
)

// RoleOperator is the role claim required for administrative routes.
const RoleOperator = "OPERATOR"

// callerID returns the authenticated operator's subject, or "anon" for
// unauthenticated requests such as gate entries and exits.
func callerID(c echo.Context) string {
	if s, ok := c.Get(ctxOperatorID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// OperatorID returns the subject of the operator token, if any.
func OperatorID(c echo.Context) string {
	s, _ := c.Get(ctxOperatorID).(string)
	return s
}
