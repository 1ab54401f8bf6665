// Package httpx provides the JSON envelope and request helpers shared by handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the {status, data, error} shape every endpoint returns.
type Envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the machine code and rule vectors of a failure.
type ErrorBody struct {
	Kind       shared.Kind `json:"kind"`
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message"`
	Violations []string    `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK wraps data in a success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Status: StatusOK, Data: data})
}

// DecodeJSON decodes the request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.Validation("request.empty_body", "request body is required")
		}
		return shared.Validation("request.malformed", "malformed request body: %v", err)
	}
	return nil
}

// Bind decodes and validates a request DTO.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}
