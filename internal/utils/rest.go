package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error envelope for the whole HTTP surface; handlers
// and middleware both respond with this shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError sends an error response in the shared envelope
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
