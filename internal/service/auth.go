package service

import "github.com/iliyamo/lab-device-reservation/internal/model"

// AuthContext identifies the caller of an admin-gated operation.  It is
// built per request from a verified session token and passed explicitly;
// the zero value is an anonymous caller.
type AuthContext struct {
	AdminID  uint64
	Username string
	Role     string
}

// Anonymous is the AuthContext of unauthenticated callers.
var Anonymous = AuthContext{}

// IsAdmin reports whether the context carries an admin session.
func (a AuthContext) IsAdmin() bool {
	return a.AdminID != 0 && a.Role == model.RoleAdmin
}

func requireAdmin(a AuthContext) error {
	if !a.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}
