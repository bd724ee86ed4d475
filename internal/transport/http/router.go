package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/observability"
	"github.com/go-otp-auth/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-auth/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds the application services the router exposes.
type Deps struct {
	AuthService auth.Service
	Tokens      appmiddleware.TokenValidator
	Logger      *slog.Logger
}

// NewRouter builds and returns the application router. ctx bounds the
// lifetime of background work started here, such as limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(observability.Recoverer(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, per client IP on the OTP endpoints.
	otpRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(deps.AuthService)

	r.Get("/health-check/{action}", healthH.Ping)

	r.Route("/auth", func(r chi.Router) {
		r.With(otpRL.Limit).Post("/request-otp", authH.RequestOTP)
		r.With(otpRL.Limit).Post("/verify-otp", authH.VerifyOTP)
		r.With(appmiddleware.Auth(deps.Tokens)).Get("/me", authH.Me)
	})

	return r
}
