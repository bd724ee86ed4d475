package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-otp-auth/internal/domain"
)

// UserStore assigns sequential numeric IDs starting at 1.
type UserStore struct {
	mu      sync.RWMutex
	seq     int64
	byID    map[string]*domain.User
	byEmail map[string]string
	byPhone map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return s.lookup(s.byEmail, email)
}

func (s *UserStore) GetByPhone(_ context.Context, phone string) (*domain.User, error) {
	return s.lookup(s.byPhone, phone)
}

func (s *UserStore) lookup(index map[string]string, key string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", key, domain.ErrNotFound)
	}
	u := *s.byID[id]
	return &u, nil
}

// Create stores u under a fresh ID and writes the ID back into u.
func (s *UserStore) Create(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Email != nil {
		if _, taken := s.byEmail[*u.Email]; taken {
			return fmt.Errorf("email %q: %w", *u.Email, domain.ErrConflict)
		}
	}
	if u.Phone != nil {
		if _, taken := s.byPhone[*u.Phone]; taken {
			return fmt.Errorf("phone %q: %w", *u.Phone, domain.ErrConflict)
		}
	}
	s.seq++
	u.ID = strconv.FormatInt(s.seq, 10)
	stored := *u
	s.byID[u.ID] = &stored
	if u.Email != nil {
		s.byEmail[*u.Email] = u.ID
	}
	if u.Phone != nil {
		s.byPhone[*u.Phone] = u.ID
	}
	return nil
}
