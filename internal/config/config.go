// Package config loads the matching engine's runtime settings from the
// environment, in the teacher's getEnv*-helper style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/matching"
)

// Config is the full set of settings ProcessOrder-the-binary needs to boot.
type Config struct {
	Mode string // APP_MODE (production vs testnet); only logged at startup
	Debug bool

	DatabaseURL string

	KafkaBrokers []string

	Fees matching.FeeSchedule

	TelegramToken  string
	TelegramChatID int64
}

// Load reads Config from the environment, matching §2.1/§6's named variables.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:        getEnv("APP_MODE", "live"),
		Debug:       getEnvBool("DEBUG", false),
		DatabaseURL: getEnv("DATABASE_URL", "matchengine.db"),
		KafkaBrokers: strings.Split(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"), ","),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	fees, err := matching.NewFeeSchedule(
		getEnvDecimal("FEE_TAKER", decimal.NewFromFloat(0.0004)),
		getEnvDecimal("FEE_MAKER", decimal.NewFromFloat(-0.0001)),
		getEnvDecimal("FEE_EXCHANGE", decimal.NewFromFloat(0.0002)),
		getEnvDecimal("FEE_BROKER", decimal.NewFromFloat(0.00005)),
		getEnvDecimal("FEE_REFERRAL", decimal.NewFromFloat(0.00005)),
	)
	if err != nil {
		return nil, fmt.Errorf("config: invalid fee schedule: %w", err)
	}
	cfg.Fees = fees

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
