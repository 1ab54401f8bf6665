package httpx

import (
	"errors"
	"net/http"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict, shared.KindState, shared.KindRace:
		return http.StatusConflict
	case shared.KindNotAuthorized:
		return http.StatusForbidden
	case shared.KindRuleViolation, shared.KindPrecision:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondError writes err inside the error envelope. Internal failures never
// leak their cause to the client.
func RespondError(w http.ResponseWriter, err error) {
	e := shared.AsError(err)
	body := &ErrorBody{
		Kind:       e.Kind,
		Code:       e.Code,
		Message:    e.Error(),
		Violations: e.Violations,
		Warnings:   e.Warnings,
	}
	if e.Kind == shared.KindInternal {
		body.Message = "internal error"
	}
	if errors.Is(err, errUnauthenticated) {
		JSON(w, http.StatusUnauthorized, Envelope{Status: StatusError, Error: body})
		return
	}
	JSON(w, StatusFor(e.Kind), Envelope{Status: StatusError, Error: body})
}

var errUnauthenticated = shared.NewError(shared.KindNotAuthorized, "unauthenticated", "missing or invalid identity")

// ErrUnauthenticated is returned when the request carries no usable identity.
func ErrUnauthenticated() error { return errUnauthenticated }
