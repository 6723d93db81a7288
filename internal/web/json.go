package web

import (
	"encoding/json"
	"log"
	"net/http"
)

// actionResponse is returned by the POST endpoints and on request errors.
type actionResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// eventsResponse is the body of /events.json.
type eventsResponse struct {
	Events []string `json:"events"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("web: encode response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
