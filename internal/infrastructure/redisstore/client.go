// Package redisstore keeps ledger and user state in Redis so that replicas
// behind a load balancer share it.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-otp-auth/internal/config"
	"github.com/redis/go-redis/v9"
)

// ttlGrace keeps lapsed records readable past their logical expiry, so an
// expired code reads as expired rather than missing.
const ttlGrace = 24 * time.Hour

// NewClient connects to Redis and verifies the connection with a PING.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opt, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opt.Addr, err)
	}
	return rdb, nil
}

func options(cfg *config.Config) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opt, nil
	}
	return &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// keys builds namespaced key names.
type keys struct{ prefix string }

func (k keys) otp(identifier string) string   { return k.prefix + ":otp:" + identifier }
func (k keys) block(identifier string) string { return k.prefix + ":block:" + identifier }
func (k keys) otpPattern() string             { return k.prefix + ":otp:*" }
func (k keys) user(id string) string          { return k.prefix + ":user:" + id }
func (k keys) email(email string) string      { return k.prefix + ":user:email:" + email }
func (k keys) phone(phone string) string      { return k.prefix + ":user:phone:" + phone }
func (k keys) userSeq() string                { return k.prefix + ":user:seq" }
