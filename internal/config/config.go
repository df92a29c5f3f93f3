// Package config загружает конфигурацию зеркала из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config — конфигурация сервера зеркала. Значения берутся из окружения,
// часть из них дополнительно переопределяется флагами (см. cmd/server).
type Config struct {
	// Адрес HTTP-сервера, DSN PostgreSQL и секрет токенов
	// ингеста/администрирования.
	ServerAddr  string `env:"SERVER_ADDRESS" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	JWTSecret   string `env:"JWT_SECRET"`

	// Настройки конвейера приема: окно буферизации событий, пришедших
	// не по порядку, буфер ленты и таймаут одного атомарного юнита.
	SyncWindow     int           `env:"SYNC_WINDOW" envDefault:"16"`
	FeedBuffer     int           `env:"FEED_BUFFER" envDefault:"256"`
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT" envDefault:"5s"`

	// Повторы применения атомарного юнита до перехода в STALLED.
	RetryMaxAttempts     uint64        `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"10s"`

	// TLS для HTTP-сервера.
	EnableHTTPS bool   `env:"ENABLE_HTTPS" envDefault:"false"`
	CertFile    string `env:"CERT_FILE"`
	KeyFile     string `env:"KEY_FILE"`
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}
	return cfg, nil
}
