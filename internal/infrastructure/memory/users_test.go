package memory

import (
	"context"
	"testing"

	"github.com/go-otp-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUserStore_SequentialIDs(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	a := &domain.User{Name: "a", Email: strPtr("a@b.com")}
	b := &domain.User{Name: "b", Phone: strPtr("9876543210")}
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	assert.Equal(t, "1", a.ID)
	assert.Equal(t, "2", b.ID)

	got, err := s.GetByPhone(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
}

func TestUserStore_DuplicateIdentifierConflicts(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &domain.User{Email: strPtr("a@b.com")}))
	err := s.Create(ctx, &domain.User{Email: strPtr("a@b.com")})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserStore_ReturnsCopies(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &domain.User{Name: "a", Email: strPtr("a@b.com")}))

	got, err := s.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := s.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Name)
}
