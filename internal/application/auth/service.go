package auth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-otp-auth/internal/domain"
)

// RequestOTPRequest accepts the identifier directly or through the legacy
// email and phone fields.
type RequestOTPRequest struct {
	Identifier string `json:"identifier" validate:"required_without_all=Email Phone"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// ResolvedIdentifier returns the first non-blank of identifier, email, phone.
// The value itself is returned untouched; identifiers are exact-match keys.
func (r RequestOTPRequest) ResolvedIdentifier() string {
	return firstNonBlank(r.Identifier, r.Email, r.Phone)
}

type VerifyOTPRequest struct {
	Identifier string `json:"identifier" validate:"required_without_all=Email Phone"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	OTP        string `json:"otp" validate:"required"`
}

func (r VerifyOTPRequest) ResolvedIdentifier() string {
	return firstNonBlank(r.Identifier, r.Email, r.Phone)
}

// LoginResult is what a successful verification hands back to the caller.
type LoginResult struct {
	Token   string
	Claims  *domain.Claims
	User    *domain.User
	Created bool
}

type Service interface {
	RequestOTP(ctx context.Context, req RequestOTPRequest) error
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*LoginResult, error)
}

// Ledger is the OTP state machine the flow drives.
type Ledger interface {
	RequestCode(ctx context.Context, identifier string) (string, error)
	VerifyCode(ctx context.Context, identifier, code string) error
}

type Resolver interface {
	Classify(identifier string) domain.IdentifierType
	FormatForDelivery(identifier string, t domain.IdentifierType) string
	ResolveOrCreate(ctx context.Context, identifier string) (domain.Resolution, error)
}

type Issuer interface {
	Issue(u *domain.User) (string, *domain.Claims, error)
}

// Sender delivers a message over an out-of-band channel.
type Sender interface {
	Send(ctx context.Context, channel domain.Channel, destination, message string) error
}

type ServiceDeps struct {
	Ledger   Ledger
	Resolver Resolver
	Issuer   Issuer
	Sender   Sender
	CodeTTL  time.Duration
	Logger   *slog.Logger
}

type service struct {
	ledger   Ledger
	resolver Resolver
	issuer   Issuer
	sender   Sender
	codeTTL  time.Duration
	logger   *slog.Logger
}

func NewService(deps ServiceDeps) Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		ledger:   deps.Ledger,
		resolver: deps.Resolver,
		issuer:   deps.Issuer,
		sender:   deps.Sender,
		codeTTL:  deps.CodeTTL,
		logger:   logger,
	}
}

// RequestOTP issues a code and dispatches it. On a delivery failure the code
// stays valid, so "delivery failed" does not mean no code exists.
func (s *service) RequestOTP(ctx context.Context, req RequestOTPRequest) error {
	identifier := req.ResolvedIdentifier()
	if identifier == "" {
		return fmt.Errorf("identifier is required: %w", domain.ErrBadRequest)
	}
	t := s.resolver.Classify(identifier)
	if t == domain.IdentifierUnknown {
		return fmt.Errorf("enter a valid email or phone: %w", domain.ErrBadRequest)
	}

	code, err := s.ledger.RequestCode(ctx, identifier)
	if err != nil {
		return err
	}

	dest := s.resolver.FormatForDelivery(identifier, t)
	msg := fmt.Sprintf("Your OTP is: %s. It expires in %d minutes.", code, int(math.Ceil(s.codeTTL.Minutes())))
	if err := s.sender.Send(ctx, t.Channel(), dest, msg); err != nil {
		s.logger.ErrorContext(ctx, "otp delivery failed", "identifier", identifier, "channel", string(t.Channel()), "err", err)
		return fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}
	s.logger.InfoContext(ctx, "otp sent", "identifier", identifier, "channel", string(t.Channel()))
	return nil
}

func (s *service) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*LoginResult, error) {
	identifier := req.ResolvedIdentifier()
	code := strings.TrimSpace(req.OTP)
	if identifier == "" || code == "" {
		return nil, fmt.Errorf("identifier and otp are required: %w", domain.ErrBadRequest)
	}

	if err := s.ledger.VerifyCode(ctx, identifier, code); err != nil {
		return nil, err
	}

	res, err := s.resolver.ResolveOrCreate(ctx, identifier)
	if err != nil {
		return nil, err
	}
	token, claims, err := s.issuer.Issue(res.User)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "user_id", res.User.ID, "created", res.Created())
	return &LoginResult{Token: token, Claims: claims, User: res.User, Created: res.Created()}, nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
