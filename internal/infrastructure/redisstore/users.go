package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-otp-auth/internal/domain"
	"github.com/redis/go-redis/v9"
)

// UserStore keeps users as JSON under sequential IDs from INCR, with
// SETNX index keys enforcing email and phone uniqueness.
type UserStore struct {
	rdb  redis.UniversalClient
	keys keys
}

func NewUserStore(rdb redis.UniversalClient, prefix string) *UserStore {
	return &UserStore{rdb: rdb, keys: keys{prefix: prefix}}
}

func (s *UserStore) Get(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := getJSON(ctx, s.rdb, s.keys.user(id), &u); err != nil {
		return nil, fmt.Errorf("user %q: %w", id, err)
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.byIndex(ctx, s.keys.email(email))
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return s.byIndex(ctx, s.keys.phone(phone))
}

// Create writes the user row first and claims the index keys after, so an
// index entry never points at a missing row. A lost claim rolls back.
func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	seq, err := s.rdb.Incr(ctx, s.keys.userSeq()).Result()
	if err != nil {
		return fmt.Errorf("next user id: %w", err)
	}
	row := *u
	row.ID = strconv.FormatInt(seq, 10)
	b, err := json.Marshal(&row)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keys.user(row.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("put user: %w", err)
	}

	var claimed []string
	for _, idx := range s.indexKeys(&row) {
		ok, err := s.rdb.SetNX(ctx, idx, row.ID, 0).Result()
		if err != nil || !ok {
			s.rollback(ctx, row.ID, claimed)
			if err != nil {
				return fmt.Errorf("claim %s: %w", idx, err)
			}
			return fmt.Errorf("%s already taken: %w", idx, domain.ErrConflict)
		}
		claimed = append(claimed, idx)
	}
	u.ID = row.ID
	return nil
}

func (s *UserStore) rollback(ctx context.Context, id string, claimed []string) {
	_ = s.rdb.Del(ctx, append(claimed, s.keys.user(id))...).Err()
}

func (s *UserStore) indexKeys(u *domain.User) []string {
	var out []string
	if u.Email != nil {
		out = append(out, s.keys.email(*u.Email))
	}
	if u.Phone != nil {
		out = append(out, s.keys.phone(*u.Phone))
	}
	return out
}

func (s *UserStore) byIndex(ctx context.Context, idx string) (*domain.User, error) {
	id, err := s.rdb.Get(ctx, idx).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user %q: %w", idx, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", idx, err)
	}
	return s.Get(ctx, id)
}
