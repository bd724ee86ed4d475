package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-otp-auth/internal/domain"
)

// MessageEnvelope is the generic response wrapper. Clients read the
// human-readable text from "message".
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// LoginEnvelope wraps a successful OTP verification.
type LoginEnvelope struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
	Created bool         `json:"created"`
}

// MeEnvelope wraps the current-credential response.
type MeEnvelope struct {
	Message string         `json:"message"`
	User    *domain.Claims `json:"user"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Message: msg, Error: http.StatusText(status)})
}
