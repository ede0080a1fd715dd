package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every error response. Code is the access
// error kind when there is one.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	Resource     string `json:"resource,omitempty"`
	ID           string `json:"id,omitempty"`
	RequiredRole string `json:"required_role,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteAccessError maps err to its status. Access errors keep their kind and
// fields; anything else is logged and reported as a bare 500 so storage
// details never reach the client.
func WriteAccessError(w http.ResponseWriter, r *http.Request, err error) {
	status := access.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		WriteErrorMessage(w, status, "internal server error")
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: string(access.KindOf(err))}
	var ae *access.Error
	if errors.As(err, &ae) {
		resp.Resource = ae.Resource
		resp.ID = ae.ID
		resp.RequiredRole = ae.RequiredRole
	}
	WriteJSON(w, status, resp)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
