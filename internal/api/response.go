package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope wraps every JSON body served by the API.
type Envelope[T any] struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Data      *T        `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func respondWithSuccess[T any](w http.ResponseWriter, r *http.Request, statusCode int, data *T) {
	resp := Envelope[T]{
		Status:    "success",
		Timestamp: time.Now().UTC(),
		RequestID: RequestID(r.Context()),
		Data:      data,
	}
	writeJSON(w, statusCode, resp)
}

func respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	resp := Envelope[struct{}]{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		RequestID: RequestID(r.Context()),
		Error:     message,
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
