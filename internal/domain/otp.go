package domain

import "time"

// OTPRecord is the single pending code for an identifier.
// Only a hash of the code is kept.
type OTPRecord struct {
	Identifier string    `json:"identifier"`
	CodeHash   string    `json:"code_hash"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r *OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// BlockRecord tracks failed verifications for an identifier.
// Version is bumped on every write and used for compare-and-swap.
type BlockRecord struct {
	Identifier     string     `json:"identifier"`
	FailedAttempts int        `json:"failed_attempts"`
	BlockExpiresAt *time.Time `json:"block_expires_at,omitempty"`
	Version        int64      `json:"version"`
}

// Blocked reports whether the block window is still open at now.
func (b *BlockRecord) Blocked(now time.Time) bool {
	return b != nil && b.BlockExpiresAt != nil && now.Before(*b.BlockExpiresAt)
}

// Remaining is the time left in the block window.
func (b *BlockRecord) Remaining(now time.Time) time.Duration {
	if !b.Blocked(now) {
		return 0
	}
	return b.BlockExpiresAt.Sub(now)
}
