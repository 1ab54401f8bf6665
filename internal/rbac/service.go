package rbac

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Service answers permission questions from the static role matrix.
type Service struct {
	grants map[shared.Role]map[string]struct{}
}

// NewService indexes the role matrix.
func NewService() *Service {
	grants := make(map[shared.Role]map[string]struct{})
	for _, role := range []shared.Role{shared.RoleAdmin, shared.RoleManager, shared.RoleStaff, shared.RoleGuest, shared.RoleTravelAgent} {
		set := make(map[string]struct{})
		for _, p := range shared.RolePermissions(role) {
			set[p] = struct{}{}
		}
		grants[role] = set
	}
	return &Service{grants: grants}
}

// EffectivePermissions returns the sorted permissions held by role.
func (s *Service) EffectivePermissions(role shared.Role) []string {
	set := s.grants[role]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Grants lists the whole matrix.
func (s *Service) Grants() []Grant {
	roles := make([]shared.Role, 0, len(s.grants))
	for r := range s.grants {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	out := make([]Grant, 0, len(roles))
	for _, r := range roles {
		out = append(out, Grant{Role: r, Permissions: s.EffectivePermissions(r)})
	}
	return out
}

// HasAny reports whether role holds at least one of perms.
func (s *Service) HasAny(role shared.Role, perms ...string) bool {
	set := s.grants[role]
	for _, p := range perms {
		if _, ok := set[strings.ToLower(strings.TrimSpace(p))]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether role holds every one of perms.
func (s *Service) HasAll(role shared.Role, perms ...string) bool {
	set := s.grants[role]
	for _, p := range perms {
		if _, ok := set[strings.ToLower(strings.TrimSpace(p))]; !ok {
			return false
		}
	}
	return true
}

// AuthorizeHotel fails unless user may act on hotelID. Non-admin users are
// scoped to the hotel they were authenticated for.
func AuthorizeHotel(user shared.UserContext, hotelID uuid.UUID) error {
	if hotelID == uuid.Nil {
		return shared.Validation("request.hotel_required", "hotel_id is required")
	}
	if !user.CanAccessHotel(hotelID) {
		return shared.NotAuthorized("user %s may not act on hotel %s", user.Actor(), hotelID)
	}
	return nil
}

// ResolveHotel picks the hotel a request targets: the explicit value when
// given, otherwise the caller's own hotel.
func ResolveHotel(user shared.UserContext, requested uuid.UUID) (uuid.UUID, error) {
	if requested == uuid.Nil {
		requested = user.HotelID
	}
	if err := AuthorizeHotel(user, requested); err != nil {
		return uuid.Nil, err
	}
	return requested, nil
}
