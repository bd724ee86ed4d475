package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT payload fields.
type Claims struct {
	UserID string  `json:"id"`
	Email  *string `json:"email,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Name   string  `json:"name"`
	jwt.RegisteredClaims
}

// Provider signs and verifies JWTs, RS256 when a key pair is configured and
// HS256 with a shared secret otherwise.
type Provider struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	clock     clock.Clocker
}

func NewProvider(cfg *config.Config, clk clock.Clocker) (*Provider, error) {
	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		return newRSAProvider(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, clk)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("no signing key configured")
	}
	return NewHMACProvider([]byte(cfg.JWTSecret), clk), nil
}

// NewHMACProvider returns an HS256 provider keyed by secret.
func NewHMACProvider(secret []byte, clk clock.Clocker) *Provider {
	return &Provider{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret, clock: clk}
}

func newRSAProvider(privPath, pubPath string, clk clock.Clocker) (*Provider, error) {
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewRSAProvider(privKey, pubKey, clk), nil
}

// NewRSAProvider returns an RS256 provider for an in-memory key pair.
func NewRSAProvider(priv *rsa.PrivateKey, pub *rsa.PublicKey, clk clock.Clocker) *Provider {
	return &Provider{method: jwt.SigningMethodRS256, signKey: priv, verifyKey: pub, clock: clk}
}

// Sign issues a token for c that expires ttl after c.IssuedAt.
func (p *Provider) Sign(c domain.Claims, ttl time.Duration) (string, error) {
	issuedAt := c.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = p.clock.Now()
	}
	claims := Claims{
		UserID: c.UserID,
		Email:  c.Email,
		Phone:  c.Phone,
		Name:   c.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(p.method, claims)
	return token.SignedString(p.signKey)
}

// Verify checks signature and expiry and returns the embedded claims.
func (p *Provider) Verify(tokenStr string) (*domain.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != p.method.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return p.verifyKey, nil
	}, jwt.WithTimeFunc(p.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	out := &domain.Claims{
		UserID: claims.UserID,
		Email:  claims.Email,
		Phone:  claims.Phone,
		Name:   claims.Name,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}
