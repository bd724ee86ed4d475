// Package memory holds process-local stores. State lives as long as the process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-otp-auth/internal/domain"
)

// LedgerStore keeps OTP and block records in maps guarded by one mutex.
type LedgerStore struct {
	mu     sync.RWMutex
	otps   map[string]domain.OTPRecord
	blocks map[string]domain.BlockRecord
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		otps:   make(map[string]domain.OTPRecord),
		blocks: make(map[string]domain.BlockRecord),
	}
}

func (s *LedgerStore) GetOTP(_ context.Context, identifier string) (*domain.OTPRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.otps[identifier]
	if !ok {
		return nil, fmt.Errorf("otp for %q: %w", identifier, domain.ErrNotFound)
	}
	return &rec, nil
}

func (s *LedgerStore) PutOTP(_ context.Context, rec *domain.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[rec.Identifier] = *rec
	return nil
}

func (s *LedgerStore) DeleteOTP(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.otps, identifier)
	return nil
}

func (s *LedgerStore) GetBlock(_ context.Context, identifier string) (*domain.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[identifier]
	if !ok {
		return nil, fmt.Errorf("block for %q: %w", identifier, domain.ErrNotFound)
	}
	return &b, nil
}

// CompareAndSwapBlock stores next when the current version equals expected,
// with expected 0 meaning no record exists yet.
func (s *LedgerStore) CompareAndSwapBlock(_ context.Context, expected int64, next *domain.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.blocks[next.Identifier]
	var curVersion int64
	if ok {
		curVersion = cur.Version
	}
	if curVersion != expected {
		return fmt.Errorf("block for %q at version %d, want %d: %w", next.Identifier, curVersion, expected, domain.ErrConflict)
	}
	rec := *next
	rec.Version = expected + 1
	s.blocks[next.Identifier] = rec
	next.Version = rec.Version
	return nil
}

func (s *LedgerStore) DeleteBlock(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, identifier)
	return nil
}

func (s *LedgerStore) DeleteExpiredOTPs(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.otps {
		if rec.Expired(now) {
			delete(s.otps, k)
			n++
		}
	}
	return n, nil
}

// Len reports how many OTP and block records are held.
func (s *LedgerStore) Len() (otps, blocks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.otps), len(s.blocks)
}
