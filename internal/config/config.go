package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	LogLevel    string

	DatabaseURL      string
	DatabaseMaxConns int

	TemporalAddress       string
	TemporalNamespace     string
	TemporalTaskQueue     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	HTTPListenAddr string
	MetricsAddr    string
	// APIKeyHashes are hex SHA-256 digests of the keys accepted in X-API-Key.
	APIKeyHashes []string

	GoGetSSLBaseURL       string
	GoGetSSLUsername      string
	GoGetSSLPassword      string
	GoGetSSLTimeout       time.Duration
	GoGetSSLRateLimit     float64
	GoGetSSLCredentialTTL time.Duration
	GoGetSSLWebhookSecret string
	RedisURL              string

	SquareBaseURL             string
	SquareAccessToken         string
	SquareLocationID          string
	SquareWebhookSignatureKey string
	SquareWebhookURL          string
	SquareTimeout             time.Duration

	PostmarkServerToken  string
	PostmarkAccountToken string
	MailFrom             string
	SupportEmail         string
	SlackWebhookURL      string

	NotifyChannels     []string
	NotifyPollInterval time.Duration
	NotifyBatchSize    int
	NotifyConcurrency  int
	NotifyMaxAttempts  int
	NotifyLease        time.Duration

	RenewalLookaheadDays int
	ExpiryWarningDays    []int
	SubmitRetryAfter     time.Duration
	UnpaidOrderTTL       time.Duration

	ReconcileSchedule     string
	ExpirySweepSchedule   string
	ExpiryWarningSchedule string
	RenewalSchedule       string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "sslshop"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:     getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:     getEnv("TEMPORAL_TASK_QUEUE", "sslshop-tasks"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		APIKeyHashes:   getEnvList("API_KEY_HASHES", nil),

		GoGetSSLBaseURL:       getEnv("GOGETSSL_BASE_URL", "https://my.gogetssl.com/api"),
		GoGetSSLUsername:      getEnv("GOGETSSL_USERNAME", ""),
		GoGetSSLPassword:      getEnv("GOGETSSL_PASSWORD", ""),
		GoGetSSLWebhookSecret: getEnv("GOGETSSL_WEBHOOK_SECRET", ""),
		RedisURL:              getEnv("REDIS_URL", ""),

		SquareBaseURL:             getEnv("SQUARE_BASE_URL", "https://connect.squareup.com"),
		SquareAccessToken:         getEnv("SQUARE_ACCESS_TOKEN", ""),
		SquareLocationID:          getEnv("SQUARE_LOCATION_ID", ""),
		SquareWebhookSignatureKey: getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
		SquareWebhookURL:          getEnv("SQUARE_WEBHOOK_URL", ""),

		PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
		PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
		MailFrom:             getEnv("MAIL_FROM", ""),
		SupportEmail:         getEnv("SUPPORT_EMAIL", ""),
		SlackWebhookURL:      getEnv("SLACK_WEBHOOK_URL", ""),

		NotifyChannels: getEnvList("NOTIFY_CHANNELS", []string{"mail", "inapp", "chat"}),

		ReconcileSchedule:     getEnv("RECONCILE_SCHEDULE", "0 * * * *"),
		ExpirySweepSchedule:   getEnv("EXPIRY_SWEEP_SCHEDULE", "30 0 * * *"),
		ExpiryWarningSchedule: getEnv("EXPIRY_WARNING_SCHEDULE", "0 9 * * *"),
		RenewalSchedule:       getEnv("RENEWAL_SCHEDULE", "0 3 * * *"),
	}
	if os.Getenv("GOGETSSL_SANDBOX") == "true" && os.Getenv("GOGETSSL_BASE_URL") == "" {
		cfg.GoGetSSLBaseURL = "https://sandbox.gogetssl.com/api"
	}

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	var err error
	cfg.DatabaseMaxConns, err = getEnvInt("DATABASE_MAX_CONNS", 0)
	collect(err)
	cfg.GoGetSSLTimeout, err = getEnvDuration("GOGETSSL_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.GoGetSSLRateLimit, err = getEnvFloat("GOGETSSL_RATE_LIMIT", 5)
	collect(err)
	cfg.GoGetSSLCredentialTTL, err = getEnvDuration("GOGETSSL_CREDENTIAL_TTL", 50*time.Minute)
	collect(err)
	cfg.SquareTimeout, err = getEnvDuration("SQUARE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.NotifyPollInterval, err = getEnvDuration("NOTIFY_POLL_INTERVAL", 5*time.Second)
	collect(err)
	cfg.NotifyBatchSize, err = getEnvInt("NOTIFY_BATCH_SIZE", 50)
	collect(err)
	cfg.NotifyConcurrency, err = getEnvInt("NOTIFY_CONCURRENCY", 4)
	collect(err)
	cfg.NotifyMaxAttempts, err = getEnvInt("NOTIFY_MAX_ATTEMPTS", 8)
	collect(err)
	cfg.NotifyLease, err = getEnvDuration("NOTIFY_LEASE", 2*time.Minute)
	collect(err)
	cfg.RenewalLookaheadDays, err = getEnvInt("RENEWAL_LOOKAHEAD_DAYS", 30)
	collect(err)
	cfg.ExpiryWarningDays, err = getEnvIntList("EXPIRY_WARNING_DAYS", []int{90, 30, 7, 1})
	collect(err)
	cfg.SubmitRetryAfter, err = getEnvDuration("SUBMIT_RETRY_AFTER", 15*time.Minute)
	collect(err)
	cfg.UnpaidOrderTTL, err = getEnvDuration("UNPAID_ORDER_TTL", 24*time.Hour)
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// ChannelEnabled reports whether a notification channel is switched on.
func (c *Config) ChannelEnabled(name string) bool {
	return slices.Contains(c.NotifyChannels, name)
}

// Validate checks that the variables needed by the given binary are set.
// Roles are "api", "worker" and "certctl".
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch role {
	case "api":
		require("DATABASE_URL", c.DatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		require("GOGETSSL_USERNAME", c.GoGetSSLUsername)
		require("GOGETSSL_PASSWORD", c.GoGetSSLPassword)
		require("SQUARE_ACCESS_TOKEN", c.SquareAccessToken)
		require("SQUARE_WEBHOOK_SIGNATURE_KEY", c.SquareWebhookSignatureKey)
		require("SQUARE_WEBHOOK_URL", c.SquareWebhookURL)
	case "worker":
		require("DATABASE_URL", c.DatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("GOGETSSL_USERNAME", c.GoGetSSLUsername)
		require("GOGETSSL_PASSWORD", c.GoGetSSLPassword)
		require("SQUARE_ACCESS_TOKEN", c.SquareAccessToken)
		if c.ChannelEnabled("mail") {
			require("POSTMARK_SERVER_TOKEN", c.PostmarkServerToken)
			require("MAIL_FROM", c.MailFrom)
		}
		if c.ChannelEnabled("chat") {
			require("SLACK_WEBHOOK_URL", c.SlackWebhookURL)
		}
	case "certctl":
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("GOGETSSL_USERNAME", c.GoGetSSLUsername)
		require("GOGETSSL_PASSWORD", c.GoGetSSLPassword)
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables for %s: %s", role, strings.Join(missing, ", "))
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvIntList(key string, fallback []int) ([]int, error) {
	parts := getEnvList(key, nil)
	if parts == nil {
		return fallback, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
