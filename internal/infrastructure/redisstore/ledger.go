package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LedgerStore holds OTP and block records as JSON values.
type LedgerStore struct {
	rdb  redis.UniversalClient
	keys keys
}

func NewLedgerStore(rdb redis.UniversalClient, prefix string) *LedgerStore {
	return &LedgerStore{rdb: rdb, keys: keys{prefix: prefix}}
}

func (s *LedgerStore) GetOTP(ctx context.Context, identifier string) (*domain.OTPRecord, error) {
	var rec domain.OTPRecord
	if err := getJSON(ctx, s.rdb, s.keys.otp(identifier), &rec); err != nil {
		return nil, fmt.Errorf("otp for %q: %w", identifier, err)
	}
	return &rec, nil
}

func (s *LedgerStore) PutOTP(ctx context.Context, rec *domain.OTPRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal otp: %w", err)
	}
	err = s.rdb.SetArgs(ctx, s.keys.otp(rec.Identifier), b, redis.SetArgs{ExpireAt: rec.ExpiresAt.Add(ttlGrace)}).Err()
	if err != nil {
		return fmt.Errorf("put otp: %w", err)
	}
	return nil
}

func (s *LedgerStore) DeleteOTP(ctx context.Context, identifier string) error {
	if err := s.rdb.Del(ctx, s.keys.otp(identifier)).Err(); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetBlock(ctx context.Context, identifier string) (*domain.BlockRecord, error) {
	var b domain.BlockRecord
	if err := getJSON(ctx, s.rdb, s.keys.block(identifier), &b); err != nil {
		return nil, fmt.Errorf("block for %q: %w", identifier, err)
	}
	return &b, nil
}

// CompareAndSwapBlock writes next inside a WATCH transaction on the block
// key. A concurrent writer aborts the EXEC and surfaces as domain.ErrConflict.
func (s *LedgerStore) CompareAndSwapBlock(ctx context.Context, expected int64, next *domain.BlockRecord) error {
	key := s.keys.block(next.Identifier)
	rec := *next
	rec.Version = expected + 1
	b, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	args := redis.SetArgs{}
	if rec.BlockExpiresAt != nil {
		args.ExpireAt = rec.BlockExpiresAt.Add(ttlGrace)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != expected {
			return fmt.Errorf("block for %q at version %d, want %d: %w", next.Identifier, cur, expected, domain.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SetArgs(ctx, key, b, args)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("block for %q changed during swap: %w", next.Identifier, domain.ErrConflict)
	}
	if err != nil {
		return err
	}
	next.Version = rec.Version
	return nil
}

func (s *LedgerStore) DeleteBlock(ctx context.Context, identifier string) error {
	if err := s.rdb.Del(ctx, s.keys.block(identifier)).Err(); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// DeleteExpiredOTPs removes records past expiry that are still inside the
// key TTL grace. Each delete is guarded by WATCH so a re-issued code is kept.
func (s *LedgerStore) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int, error) {
	n := 0
	iter := s.rdb.Scan(ctx, 0, s.keys.otpPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var rec domain.OTPRecord
			if err := getJSON(ctx, tx, key, &rec); err != nil {
				return err
			}
			if !rec.Expired(now) {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
			if err == nil {
				n++
			}
			return err
		}, key)
		switch {
		case err == nil, errors.Is(err, domain.ErrNotFound), errors.Is(err, redis.TxFailedErr):
		default:
			return n, fmt.Errorf("delete expired otp: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("scan otps: %w", err)
	}
	return n, nil
}

func currentVersion(ctx context.Context, c getter, key string) (int64, error) {
	var b domain.BlockRecord
	err := getJSON(ctx, c, key, &b)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Version, nil
}

// getter is satisfied by clients and by *redis.Tx inside WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getJSON decodes the value at key into v, mapping a missing key to
// domain.ErrNotFound.
func getJSON(ctx context.Context, c getter, key string, v interface{}) error {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
