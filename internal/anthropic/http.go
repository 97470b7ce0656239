package anthropic

import (
	"encoding/json"
	"net/http"
)

// WriteError writes the error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(errType, message))
}
