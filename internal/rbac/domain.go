// Package rbac resolves caller identity at the HTTP boundary and enforces the
// role/permission matrix before requests reach core services.
package rbac

import "github.com/lodgeledger/lodgeledger/internal/shared"

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderRole     = "X-User-Role"
	HeaderHotelID  = "X-Hotel-ID"
)

// Grant lists the permissions a role holds.
type Grant struct {
	Role        shared.Role `json:"role"`
	Permissions []string    `json:"permissions"`
}
