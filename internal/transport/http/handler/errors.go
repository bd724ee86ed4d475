package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/observability"
)

// httpError maps a service error to its status code and client message.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *domain.BlockedError
	var invalid *domain.InvalidCodeError

	switch {
	case errors.As(err, &blocked):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(blocked.RetryAfter.Seconds()))))
		if blocked.Tripped {
			writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Too many failed attempts. Account blocked for %d minutes.", blocked.Minutes()))
			return
		}
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("Account blocked. Try again in %d minutes.", blocked.Minutes()))
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid OTP. %d attempts remaining.", invalid.Remaining))
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusBadRequest, "OTP has expired")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusBadRequest, "No OTP requested or OTP expired")
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, strings.TrimSuffix(err.Error(), ": "+domain.ErrBadRequest.Error()))
	case errors.Is(err, domain.ErrDelivery):
		observability.CaptureError(r.Context(), err, map[string]string{"path": r.URL.Path})
		writeError(w, http.StatusInternalServerError, "Failed to send OTP")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Access Denied")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Invalid Token")
	default:
		observability.CaptureError(r.Context(), err, map[string]string{"path": r.URL.Path})
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
