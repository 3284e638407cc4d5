// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"

	"qkd-mail-service/internal/domain"
)

// 鍵ストアの種別。
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port     string `env:"PORT" envDefault:"8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// 鍵ストア
	KeyStoreDriver string `env:"KEY_STORE_DRIVER" envDefault:"file"`
	KeyStorePath   string `env:"KEY_STORE_PATH" envDefault:"qkd_keys.json"`
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrationsDir  string `env:"MIGRATIONS_DIR"`
	KMSKeyName     string `env:"KMS_KEY_NAME"`

	// 観測
	GoogleCloudProject string  `env:"GOOGLE_CLOUD_PROJECT"`
	OtelEnabled        bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OtelEndpoint       string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OtelServiceName    string  `env:"OTEL_SERVICE_NAME" envDefault:"qkd-kme"`
	OtelSamplingRate   float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`

	// KMEクライアント・送受信
	KMEURL               string        `env:"QKD_KME_URL" envDefault:"http://127.0.0.1:8000"`
	KMETimeout           time.Duration `env:"QKD_KME_TIMEOUT" envDefault:"10s"`
	MasterSAEID          string        `env:"QKD_MASTER_SAE_ID" envDefault:"SENDER_SAE"`
	SlaveSAEID           string        `env:"QKD_SLAVE_SAE_ID" envDefault:"RECEIVER_SAE"`
	DefaultKeySize       int           `env:"DEFAULT_KEY_SIZE" envDefault:"256"`
	DefaultSecurityLevel string        `env:"DEFAULT_SECURITY_LEVEL" envDefault:"L2"`

	// statusで返す静的な値
	SourceKMEID      string `env:"SOURCE_KME_ID" envDefault:"KME_SIMULATOR_001"`
	TargetKMEID      string `env:"TARGET_KME_ID" envDefault:"KME_SIMULATOR_002"`
	StatusMasterSAE  string `env:"STATUS_MASTER_SAE_ID" envDefault:"MASTER_SAE"`
	StoredKeyCount   int    `env:"STORED_KEY_COUNT" envDefault:"1000"`
	MaxKeyCount      int    `env:"MAX_KEY_COUNT" envDefault:"10000"`
	MaxKeyPerRequest int    `env:"MAX_KEY_PER_REQUEST" envDefault:"10"`
	MaxKeySize       int    `env:"MAX_KEY_SIZE" envDefault:"512"`
	MinKeySize       int    `env:"MIN_KEY_SIZE" envDefault:"128"`
	MaxSAEIDCount    int    `env:"MAX_SAE_ID_COUNT" envDefault:"0"`
}

// Load は環境変数から設定を読み込み、検証する。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の組み合わせを検証する。
func (c *Config) Validate() error {
	if _, err := domain.ParseSecurityLevel(c.DefaultSecurityLevel); err != nil {
		return fmt.Errorf("DEFAULT_SECURITY_LEVEL: %w", err)
	}
	if c.DefaultKeySize <= 0 || c.DefaultKeySize%8 != 0 {
		return fmt.Errorf("DEFAULT_KEY_SIZE must be a positive multiple of 8, got %d", c.DefaultKeySize)
	}
	switch c.KeyStoreDriver {
	case DriverFile:
		if c.KeyStorePath == "" {
			return fmt.Errorf("KEY_STORE_PATH is required for the file key store")
		}
	case DriverSQLite, DriverMySQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s key store", c.KeyStoreDriver)
		}
	default:
		return fmt.Errorf("unknown KEY_STORE_DRIVER %q", c.KeyStoreDriver)
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1, got %v", c.OtelSamplingRate)
	}
	return nil
}

// SecurityLevel は既定のセキュリティレベルを返す。
func (c *Config) SecurityLevel() domain.SecurityLevel {
	return domain.SecurityLevel(c.DefaultSecurityLevel)
}

// KMEProfile はstatusで返す静的な値をまとめる。
func (c *Config) KMEProfile() domain.KMEStatus {
	return domain.KMEStatus{
		SourceKMEID:      c.SourceKMEID,
		TargetKMEID:      c.TargetKMEID,
		MasterSAEID:      c.StatusMasterSAE,
		KeySize:          c.DefaultKeySize,
		StoredKeyCount:   c.StoredKeyCount,
		MaxKeyCount:      c.MaxKeyCount,
		MaxKeyPerRequest: c.MaxKeyPerRequest,
		MaxKeySize:       c.MaxKeySize,
		MinKeySize:       c.MinKeySize,
		MaxSAEIDCount:    c.MaxSAEIDCount,
	}
}
