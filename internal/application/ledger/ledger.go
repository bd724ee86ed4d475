// Package ledger owns OTP issuance and verification state per identifier,
// including failed-attempt counting and temporary blocking.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/go-otp-auth/internal/pkg/keylock"
	"golang.org/x/crypto/bcrypt"
)

const (
	codeMin = 100000
	codeMax = 999999

	// casRetries bounds how often a failed attempt is re-read after losing a
	// compare-and-swap race against another replica.
	casRetries = 5
)

// Store is the minimal interface the ledger requires from its backing store.
type Store interface {
	GetOTP(ctx context.Context, identifier string) (*domain.OTPRecord, error)
	PutOTP(ctx context.Context, rec *domain.OTPRecord) error
	DeleteOTP(ctx context.Context, identifier string) error
	GetBlock(ctx context.Context, identifier string) (*domain.BlockRecord, error)
	// CompareAndSwapBlock writes next only if the stored version equals
	// expected (0 when absent) and returns domain.ErrConflict otherwise.
	CompareAndSwapBlock(ctx context.Context, expected int64, next *domain.BlockRecord) error
	DeleteBlock(ctx context.Context, identifier string) error
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	CodeTTL       time.Duration
	BlockDuration time.Duration
	MaxAttempts   int
	HashCost      int
}

// DefaultConfig matches the production limits: 10 minute codes, 3 attempts,
// 10 minute blocks.
func DefaultConfig() Config {
	return Config{
		CodeTTL:       10 * time.Minute,
		BlockDuration: 10 * time.Minute,
		MaxAttempts:   3,
		HashCost:      bcrypt.DefaultCost,
	}
}

type Ledger struct {
	store  Store
	locks  *keylock.Locker
	clock  clock.Clocker
	cfg    Config
	logger *slog.Logger
	random io.Reader
}

func New(store Store, clk clock.Clocker, cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		locks:  keylock.New(),
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		random: rand.Reader,
	}
}

// RequestCode issues a fresh code for identifier, replacing any pending one.
// The plain code is returned only so the caller can hand it to delivery.
func (l *Ledger) RequestCode(ctx context.Context, identifier string) (string, error) {
	unlock := l.locks.Lock(identifier)
	defer unlock()

	now := l.clock.Now()
	if err := l.checkBlocked(ctx, identifier, now); err != nil {
		return "", err
	}

	code, err := generateCode(l.random)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), l.cfg.HashCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}

	rec := &domain.OTPRecord{
		Identifier: identifier,
		CodeHash:   string(hash),
		IssuedAt:   now,
		ExpiresAt:  now.Add(l.cfg.CodeTTL),
	}
	if err := l.store.PutOTP(ctx, rec); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// VerifyCode checks code against the pending record for identifier. Expiry is
// checked before equality, so an expired code never counts as a failed attempt.
// A match consumes the record and clears any attempt history.
func (l *Ledger) VerifyCode(ctx context.Context, identifier, code string) error {
	unlock := l.locks.Lock(identifier)
	defer unlock()

	now := l.clock.Now()
	if err := l.checkBlocked(ctx, identifier, now); err != nil {
		return err
	}

	rec, err := l.store.GetOTP(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no otp requested: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}

	if rec.Expired(now) {
		if err := l.store.DeleteOTP(ctx, identifier); err != nil {
			l.logger.WarnContext(ctx, "failed to delete expired otp", "identifier", identifier, "err", err)
		}
		return domain.ErrExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
		return l.recordFailure(ctx, identifier, now)
	}

	if err := l.store.DeleteOTP(ctx, identifier); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if err := l.store.DeleteBlock(ctx, identifier); err != nil {
		l.logger.WarnContext(ctx, "failed to clear attempt history", "identifier", identifier, "err", err)
	}
	return nil
}

// Sweep drops expired OTP records. Block records are left alone: a lapsed
// block keeps its attempt count until the next verification overwrites it.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	return l.store.DeleteExpiredOTPs(ctx, l.clock.Now())
}

// RunReaper calls Sweep every interval until ctx is done.
func (l *Ledger) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.ErrorContext(ctx, "otp sweep failed", "err", err)
				continue
			}
			if n > 0 {
				l.logger.DebugContext(ctx, "otp sweep", "removed", n)
			}
		}
	}
}

func (l *Ledger) checkBlocked(ctx context.Context, identifier string, now time.Time) error {
	b, err := l.store.GetBlock(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load block: %w", err)
	}
	if b.Blocked(now) {
		return &domain.BlockedError{RetryAfter: b.Remaining(now)}
	}
	return nil
}

func (l *Ledger) recordFailure(ctx context.Context, identifier string, now time.Time) error {
	for i := 0; i < casRetries; i++ {
		next := domain.BlockRecord{Identifier: identifier}
		var expected int64
		cur, err := l.store.GetBlock(ctx, identifier)
		switch {
		case err == nil:
			next = *cur
			expected = cur.Version
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("load block: %w", err)
		}
		if next.Blocked(now) {
			return &domain.BlockedError{RetryAfter: next.Remaining(now)}
		}

		next.FailedAttempts++
		blocked := next.FailedAttempts >= l.cfg.MaxAttempts
		if blocked {
			until := now.Add(l.cfg.BlockDuration)
			next.BlockExpiresAt = &until
		}

		err = l.store.CompareAndSwapBlock(ctx, expected, &next)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store block: %w", err)
		}

		if blocked {
			l.logger.WarnContext(ctx, "identifier blocked", "identifier", identifier, "attempts", next.FailedAttempts)
			return &domain.BlockedError{RetryAfter: l.cfg.BlockDuration, Tripped: true}
		}
		return &domain.InvalidCodeError{Remaining: l.cfg.MaxAttempts - next.FailedAttempts}
	}
	return fmt.Errorf("record failed attempt: %w", domain.ErrConflict)
}

func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}
