package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate turns the gateway identity headers into a UserContext.
// Requests without a valid identity are rejected.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.identify(r)
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthenticated())
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUser(r.Context(), user)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, m.Service.HasAny)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, m.Service.HasAll)
}

func (m Middleware) require(perms []string, check func(shared.Role, ...string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			user, ok := shared.UserFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthenticated())
				return
			}
			if check(user.Role, perms...) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("user", user.Actor()),
					slog.String("role", string(user.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, shared.NotAuthorized("role %s lacks %s", user.Role, strings.Join(perms, " or ")))
		})
	}
}

func (m Middleware) identify(r *http.Request) (shared.UserContext, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return shared.UserContext{}, false
	}
	role, ok := shared.ParseRole(r.Header.Get(HeaderRole))
	if !ok {
		return shared.UserContext{}, false
	}
	user := shared.UserContext{UserID: userID, Name: r.Header.Get(HeaderUserName), Role: role}
	if raw := strings.TrimSpace(r.Header.Get(HeaderHotelID)); raw != "" {
		hotelID, err := uuid.Parse(raw)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("rbac parse hotel id", slog.String("value", raw))
			}
			return shared.UserContext{}, false
		}
		user.HotelID = hotelID
	}
	if role != shared.RoleAdmin && user.HotelID == uuid.Nil {
		return shared.UserContext{}, false
	}
	return user, true
}

// CurrentUser returns the authenticated user or an error suitable for RespondError.
func CurrentUser(r *http.Request) (shared.UserContext, error) {
	user, ok := shared.UserFromContext(r.Context())
	if !ok {
		return shared.UserContext{}, httpx.ErrUnauthenticated()
	}
	return user, nil
}
