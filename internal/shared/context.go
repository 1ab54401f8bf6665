package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role is a coarse business role.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleStaff       Role = "staff"
	RoleGuest       Role = "guest"
	RoleTravelAgent Role = "travel_agent"
)

// ParseRole normalises a role name; unknown roles return false.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleManager, RoleStaff, RoleGuest, RoleTravelAgent:
		return r, true
	}
	return "", false
}

// UserContext identifies the caller of a core operation.
type UserContext struct {
	UserID  string
	Name    string
	Role    Role
	HotelID uuid.UUID
}

// SystemUser is used by jobs and automatic postings.
func SystemUser(hotelID uuid.UUID) UserContext {
	return UserContext{UserID: "system", Name: "system", Role: RoleAdmin, HotelID: hotelID}
}

// HasRole reports whether the user holds any of roles.
func (u UserContext) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// IsApprover reports admin or manager.
func (u UserContext) IsApprover() bool {
	return u.HasRole(RoleAdmin, RoleManager)
}

// CanAccessHotel reports whether the user may act on hotelID.
func (u UserContext) CanAccessHotel(hotelID uuid.UUID) bool {
	if u.Role == RoleAdmin {
		return true
	}
	return u.HotelID != uuid.Nil && u.HotelID == hotelID
}

// Actor renders the identifier stored on audit trails.
func (u UserContext) Actor() string {
	if u.UserID == "" {
		return "anonymous"
	}
	return u.UserID
}

type userContextKey struct{}

// ContextWithUser stores the user in ctx. Only the HTTP façade calls this.
func ContextWithUser(ctx context.Context, user UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the user stored by ContextWithUser.
func UserFromContext(ctx context.Context) (UserContext, bool) {
	user, ok := ctx.Value(userContextKey{}).(UserContext)
	return user, ok
}
