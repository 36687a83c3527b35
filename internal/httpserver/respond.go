package httpserver

import (
	"encoding/json"
	"net/http"
)

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON envelope for error responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RespondError writes a JSON error envelope with the given status code.
func RespondError(w http.ResponseWriter, status int, kind, message string) {
	Respond(w, status, errorResponse{Error: kind, Message: message})
}
