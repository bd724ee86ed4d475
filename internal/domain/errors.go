package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	ErrBlocked      = errors.New("blocked")
	ErrExpired      = errors.New("otp expired")
	ErrInvalidCode  = errors.New("invalid otp")
	ErrDelivery     = errors.New("delivery failed")
	ErrInvalidToken = errors.New("invalid token")
)

// BlockedError is returned while an identifier sits inside its block window.
// Tripped is set on the failed attempt that opened the window.
type BlockedError struct {
	RetryAfter time.Duration
	Tripped    bool
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked for another %d minutes", e.Minutes())
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// Minutes is RetryAfter rounded up to whole minutes.
func (e *BlockedError) Minutes() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// InvalidCodeError reports a wrong code together with the attempts left before a block.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid otp, %d attempts remaining", e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }
