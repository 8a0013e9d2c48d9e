// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

// PermissionDeniedBody is returned with 403 when a guard denies a request. It
// echoes only the required permission and the caller's role.
type PermissionDeniedBody struct {
	Error    string `json:"error"`
	Required string `json:"required"`
	Role     string `json:"role"`
}

// PermissionDenied writes the 403 body for a denied request.
func PermissionDenied(w http.ResponseWriter, required, role string) {
	JSON(w, http.StatusForbidden, PermissionDeniedBody{
		Error:    "permission denied",
		Required: required,
		Role:     role,
	})
}
