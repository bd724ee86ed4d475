// Package identity classifies identifiers and maps them to user records.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
)

var (
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	phonePattern = regexp.MustCompile(`^[0-9+]{10,}$`)
)

// Classify reports whether identifier is an email address or a phone number.
// Anything matching neither is IdentifierUnknown.
func Classify(identifier string) domain.IdentifierType {
	switch {
	case emailPattern.MatchString(identifier):
		return domain.IdentifierEmail
	case phonePattern.MatchString(identifier):
		return domain.IdentifierPhone
	default:
		return domain.IdentifierUnknown
	}
}

// UserStore is the minimal interface the resolver requires from a user store.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	// Create assigns u.ID and returns domain.ErrConflict when the email or
	// phone already belongs to another user.
	Create(ctx context.Context, u *domain.User) error
}

type Resolver struct {
	users       UserStore
	callingCode string
	clock       clock.Clocker
	logger      *slog.Logger
}

// NewResolver returns a Resolver that prefixes bare phone numbers with
// callingCode, e.g. "+91".
func NewResolver(users UserStore, callingCode string, clk clock.Clocker, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.HasPrefix(callingCode, "+") {
		callingCode = "+" + callingCode
	}
	return &Resolver{users: users, callingCode: callingCode, clock: clk, logger: logger}
}

func (r *Resolver) Classify(identifier string) domain.IdentifierType {
	return Classify(identifier)
}

// FormatForDelivery returns the destination the channel for t expects.
// Phone numbers always come back in international form; calling it on its
// own output is a no-op.
func (r *Resolver) FormatForDelivery(identifier string, t domain.IdentifierType) string {
	if t != domain.IdentifierPhone {
		return identifier
	}
	switch {
	case strings.HasPrefix(identifier, "+"):
		return identifier
	case strings.HasPrefix(identifier, "00"):
		return "+" + strings.TrimPrefix(identifier, "00")
	default:
		return r.callingCode + identifier
	}
}

// ResolveOrCreate returns the user owning identifier, creating one on first
// sight. The result tells a login apart from an implicit sign-up.
func (r *Resolver) ResolveOrCreate(ctx context.Context, identifier string) (domain.Resolution, error) {
	t := Classify(identifier)
	if t == domain.IdentifierUnknown {
		return domain.Resolution{}, fmt.Errorf("identifier must be an email or phone number: %w", domain.ErrBadRequest)
	}

	u, err := r.lookup(ctx, identifier, t)
	if err == nil {
		return domain.Resolution{User: u, Kind: domain.ResolutionExisting}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Resolution{}, fmt.Errorf("lookup user: %w", err)
	}

	u = newUser(identifier, t)
	u.CreatedAt = r.clock.Now()
	err = r.users.Create(ctx, u)
	if errors.Is(err, domain.ErrConflict) {
		// lost a race with a concurrent sign-up for the same identifier
		existing, lerr := r.lookup(ctx, identifier, t)
		if lerr != nil {
			return domain.Resolution{}, fmt.Errorf("lookup user after conflict: %w", lerr)
		}
		return domain.Resolution{User: existing, Kind: domain.ResolutionExisting}, nil
	}
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("create user: %w", err)
	}
	r.logger.InfoContext(ctx, "user created", "user_id", u.ID, "type", string(t))
	return domain.Resolution{User: u, Kind: domain.ResolutionCreated}, nil
}

func (r *Resolver) lookup(ctx context.Context, identifier string, t domain.IdentifierType) (*domain.User, error) {
	if t == domain.IdentifierPhone {
		return r.users.GetByPhone(ctx, identifier)
	}
	return r.users.GetByEmail(ctx, identifier)
}

func newUser(identifier string, t domain.IdentifierType) *domain.User {
	id := identifier
	if t == domain.IdentifierPhone {
		return &domain.User{Name: identifier, Phone: &id}
	}
	name, _, _ := strings.Cut(identifier, "@")
	return &domain.User{Name: name, Email: &id}
}
