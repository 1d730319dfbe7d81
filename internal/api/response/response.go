package response

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/mediaforge/pkg/models"
)

// JSON writes v unwrapped with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func OK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func Error(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: errStr, Message: message})
}

// Empty writes an empty JSON object.
func Empty(w http.ResponseWriter, status int) {
	writeJSON(w, status, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
