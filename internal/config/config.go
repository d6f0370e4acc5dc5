package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	PostgresURL  string
	KafkaBrokers string

	GatewayBaseURL     string
	GatewayAccessToken string

	AdminPort string

	PollInterval  time.Duration
	SweepInterval time.Duration
	PollBatchSize int

	// AffiliateHoldPeriod is the grace interval after delivery before a
	// commission becomes withdrawable, absorbing returns and chargebacks.
	AffiliateHoldPeriod    time.Duration
	AffiliateCommissionBps int64

	// DeliverySLA is how long after shipping an order may stay undelivered
	// before the consistency sweep flags it for manual review.
	DeliverySLA time.Duration

	// SweepRepair gates corrective writes; when false the sweep only reports.
	SweepRepair bool
}

func Load() (*Config, error) {
	cfg := &Config{
		PostgresURL:            os.Getenv("POSTGRES_URL"),
		KafkaBrokers:           os.Getenv("KAFKA_BROKERS"),
		GatewayBaseURL:         getEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
		GatewayAccessToken:     os.Getenv("GATEWAY_ACCESS_TOKEN"),
		AdminPort:              getEnv("PORT", "8080"),
		PollBatchSize:          getEnvInt("POLL_BATCH_SIZE", 100),
		AffiliateCommissionBps: int64(getEnvInt("AFFILIATE_COMMISSION_BPS", 500)),
		SweepRepair:            getEnv("SWEEP_REPAIR", "true") == "true",
	}

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL environment variable is required")
	}
	if cfg.GatewayAccessToken == "" {
		return nil, fmt.Errorf("GATEWAY_ACCESS_TOKEN environment variable is required")
	}

	var err error
	if cfg.PollInterval, err = getEnvDuration("POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AffiliateHoldPeriod, err = getEnvDuration("AFFILIATE_HOLD_PERIOD", 720*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeliverySLA, err = getEnvDuration("DELIVERY_SLA", 360*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
