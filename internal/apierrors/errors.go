// Package apierrors provides the JSON error envelope for the HTTP surface.
package apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Response is the error body returned by all handlers.
type Response struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Write sends the error envelope with the chi request id attached.
func Write(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// BadRequest sends a 400.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusBadRequest, message, "bad_request")
}

// NotFound sends a 404.
func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusNotFound, message, "not_found")
}

// Conflict sends a 409.
func Conflict(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusConflict, message, "conflict")
}

// Internal sends a 500 with a generic message.
func Internal(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusInternalServerError, "internal server error", "internal")
}
