// Package credential issues and validates signed, expiring session credentials.
package credential

import (
	"fmt"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
)

// DefaultTTL is how long an issued credential stays valid.
const DefaultTTL = time.Hour

// Signer produces and checks signed tokens.
type Signer interface {
	Sign(c domain.Claims, ttl time.Duration) (string, error)
	Verify(token string) (*domain.Claims, error)
}

type Issuer struct {
	signer Signer
	ttl    time.Duration
	clock  clock.Clocker
}

func NewIssuer(signer Signer, ttl time.Duration, clk clock.Clocker) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{signer: signer, ttl: ttl, clock: clk}
}

// Issue signs a credential for u.
func (i *Issuer) Issue(u *domain.User) (string, *domain.Claims, error) {
	now := i.clock.Now()
	claims := domain.Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Phone:     u.Phone,
		Name:      u.Name,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	token, err := i.signer.Sign(claims, i.ttl)
	if err != nil {
		return "", nil, fmt.Errorf("sign credential: %w", err)
	}
	return token, &claims, nil
}

// Validate returns the claims of a well-signed, unexpired token.
func (i *Issuer) Validate(token string) (*domain.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}
	claims, err := i.signer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrForbidden, domain.ErrInvalidToken, err)
	}
	return claims, nil
}
