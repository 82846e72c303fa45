package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// Ack is the body agents receive for accepted reports.
type Ack struct {
	Success bool `json:"success"`
}

func WriteAck(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, Ack{Success: true})
}

// WriteNotModified answers a conditional poll whose token still matches.
func WriteNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}
