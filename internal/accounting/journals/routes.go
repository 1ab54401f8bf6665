package journals

import (
	"github.com/go-chi/chi/v5"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermJournalView))
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/records", h.Records)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermJournalDraft))
		r.Post("/", h.Create)
		r.Post("/{id}/void", h.Void)
	})
	r.With(h.rbac.RequireAny(shared.PermJournalPost)).Post("/{id}/post", h.Post)
	r.With(h.rbac.RequireAny(shared.PermJournalReverse)).Post("/{id}/reverse", h.Reverse)
}
