package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
)

// PermissionsHandler exposes the caller's grants and the role matrix.
type PermissionsHandler struct {
	service *Service
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(service *Service) *PermissionsHandler {
	return &PermissionsHandler{service: service}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Get("/roles", h.roles)
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	user, err := CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"user_id":     user.UserID,
		"name":        user.Name,
		"role":        user.Role,
		"hotel_id":    user.HotelID,
		"permissions": h.service.EffectivePermissions(user.Role),
	})
}

func (h *PermissionsHandler) roles(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, h.service.Grants())
}
