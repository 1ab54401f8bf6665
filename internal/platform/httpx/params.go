package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// DateLayout is the date format accepted in query strings.
const DateLayout = "2006-01-02"

// UUIDParam reads a path parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, shared.Validation("request.invalid_id", "invalid %s", name)
	}
	return id, nil
}

// UUIDQuery reads an optional UUID query value.
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.Validation("request.invalid_id", "invalid %s", name)
	}
	return id, nil
}

// DateQuery reads a YYYY-MM-DD query value, falling back to def.
func DateQuery(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Validation("request.invalid_date", "%s must be YYYY-MM-DD", name)
	}
	return t, nil
}

// IntQuery reads an integer query value, falling back to def.
func IntQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Validation("request.invalid_number", "%s must be an integer", name)
	}
	return v, nil
}

// Page reads limit/offset query values.
func Page(r *http.Request) (shared.PageRequest, error) {
	limit, err := IntQuery(r, "limit", 0)
	if err != nil {
		return shared.PageRequest{}, err
	}
	offset, err := IntQuery(r, "offset", 0)
	if err != nil {
		return shared.PageRequest{}, err
	}
	return shared.PageRequest{Limit: limit, Offset: offset}.Normalize(), nil
}
