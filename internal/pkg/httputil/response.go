// Package httputil provides HTTP middleware and response helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorBody is the error payload returned by every endpoint.
// Errors is populated only for field validation failures.
type ErrorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// JSON writes a raw JSON response.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Error writes an ErrorBody with the given message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Message: message})
}

// FieldErrors writes a 400 validation failure for the given field messages.
func FieldErrors(w http.ResponseWriter, errs map[string]string) {
	JSON(w, http.StatusBadRequest, ErrorBody{
		Message: "Validation failed.",
		Errors:  errs,
	})
}

// ValidationError writes a 400 response for a failed validator.Struct call.
// Messages for the same field are joined with a space.
func ValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		FieldErrors(w, map[string]string{"body": err.Error()})
		return
	}

	fields := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		msg := fieldMessage(e)
		if existing, ok := fields[e.Field()]; ok {
			msg = existing + " " + msg
		}
		fields[e.Field()] = msg
	}
	FieldErrors(w, fields)
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "notblank":
		return "must not be blank"
	case "email":
		return "must be a well-formed email address"
	case "max":
		return "size must be at most " + e.Param()
	case "maxbytes":
		return "size must be at most " + e.Param() + " bytes"
	case "role":
		return "must be a known role"
	default:
		return "failed on " + e.Tag()
	}
}
