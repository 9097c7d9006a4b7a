package models

import (
	"encoding/json"
	"net/http"
)

// Problem — тело JSON-ошибки HTTP API.
type Problem struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Error: title, Message: detail, Details: details})
}
