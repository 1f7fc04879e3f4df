package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// errorBody is the error envelope shared with the API handlers.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// writeError writes a JSON error response from middleware that sits in front
// of the API handlers.
func writeError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(ctx, code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Success: false, Message: message, Code: code})
}
