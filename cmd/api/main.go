package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/application/credential"
	"github.com/go-otp-auth/internal/application/identity"
	"github.com/go-otp-auth/internal/application/ledger"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/infrastructure/delivery"
	"github.com/go-otp-auth/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
	"github.com/go-otp-auth/internal/infrastructure/memory"
	"github.com/go-otp-auth/internal/infrastructure/redisstore"
	"github.com/go-otp-auth/internal/infrastructure/smtp"
	"github.com/go-otp-auth/internal/infrastructure/sns"
	"github.com/go-otp-auth/internal/observability"
	"github.com/go-otp-auth/internal/pkg/clock"
	transporthttp "github.com/go-otp-auth/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := observability.NewLogger(cfg.IsDevelopment())
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Warn("sentry not available", "err", err)
	}
	defer observability.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		observability.FlushSentry()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.New()

	ledgerStore, userStore, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}

	signer, err := jwtinfra.NewProvider(cfg, clk)
	if err != nil {
		return fmt.Errorf("credential signer: %w", err)
	}
	issuer := credential.NewIssuer(signer, cfg.CredentialTTL, clk)

	// Without a transport configured the dispatcher logs the message instead.
	var mailer smtp.Mailer
	if cfg.SMTPHost != "" {
		mailer = smtp.NewMailer(cfg)
	}
	var smsSender sns.SMSSender
	if cfg.SNSEnabled {
		if s, err := sns.NewSender(ctx, cfg); err == nil {
			smsSender = s
		} else {
			logger.Warn("SNS sender not available", "err", err)
		}
	}

	led := ledger.New(ledgerStore, clk, ledger.Config{
		CodeTTL:       cfg.OTPTTL,
		BlockDuration: cfg.BlockDuration,
		MaxAttempts:   cfg.MaxAttempts,
		HashCost:      cfg.OTPHashCost,
	}, logger)
	if cfg.ReaperInterval > 0 {
		go led.RunReaper(ctx, cfg.ReaperInterval)
	}

	svc := auth.NewService(auth.ServiceDeps{
		Ledger:   led,
		Resolver: identity.NewResolver(userStore, cfg.DefaultCallingCode, clk, logger),
		Issuer:   issuer,
		Sender:   delivery.NewDispatcher(mailer, smsSender, logger),
		CodeTTL:  cfg.OTPTTL,
		Logger:   logger,
	})

	router := transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
		AuthService: svc,
		Tokens:      issuer,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// buildStores returns the ledger and user stores for cfg.StoreBackend.
func buildStores(ctx context.Context, cfg *config.Config) (ledger.Store, identity.UserStore, error) {
	switch cfg.StoreBackend {
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		// Bootstrap DynamoDB tables (creates them if they don't exist).
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewLedgerStore(client, cfg.DynamoTables.OTPs, cfg.DynamoTables.Blocks),
			dynamo.NewUserRepo(client, cfg.DynamoTables.Users), nil
	case "redis":
		rdb, err := redisstore.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewLedgerStore(rdb, cfg.RedisPrefix), redisstore.NewUserStore(rdb, cfg.RedisPrefix), nil
	default:
		return memory.NewLedgerStore(), memory.NewUserStore(), nil
	}
}
