package core

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/square"
)

// NewCredentialCache returns the shared Redis cache when REDIS_URL is set
// and a process-local one otherwise. The returned close func releases the
// Redis connection.
func NewCredentialCache(cfg *config.Config) (gogetssl.CredentialCache, func() error, error) {
	if cfg.RedisURL == "" {
		return gogetssl.NewMemoryCredentialCache(), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return gogetssl.NewRedisCredentialCache(client, ""), client.Close, nil
}

// NewAuthorityClient builds the certificate authority client from config.
func NewAuthorityClient(cfg *config.Config, cache gogetssl.CredentialCache, logger zerolog.Logger) *gogetssl.Client {
	return gogetssl.NewClient(gogetssl.Config{
		BaseURL:       cfg.GoGetSSLBaseURL,
		Username:      cfg.GoGetSSLUsername,
		Password:      cfg.GoGetSSLPassword,
		Timeout:       cfg.GoGetSSLTimeout,
		RateLimit:     cfg.GoGetSSLRateLimit,
		CredentialTTL: cfg.GoGetSSLCredentialTTL,
	}, cache, logger)
}

// NewPaymentsClient builds the payment gateway client from config.
func NewPaymentsClient(cfg *config.Config, logger zerolog.Logger) *square.Client {
	return square.NewClient(square.Config{
		BaseURL:     cfg.SquareBaseURL,
		AccessToken: cfg.SquareAccessToken,
		LocationID:  cfg.SquareLocationID,
		Timeout:     cfg.SquareTimeout,
	}, logger)
}

// WebhookConfig collects the webhook verification secrets from config.
func WebhookConfig(cfg *config.Config) lifecycle.WebhookConfig {
	return lifecycle.WebhookConfig{
		SquareSignatureKey:    cfg.SquareWebhookSignatureKey,
		SquareNotificationURL: cfg.SquareWebhookURL,
		AuthoritySecret:       cfg.GoGetSSLWebhookSecret,
	}
}
