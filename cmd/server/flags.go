package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/shannynalayna/grid/internal/config"
)

// parseFlags накладывает флаги командной строки поверх конфигурации,
// прочитанной из окружения, и проверяет обязательные параметры.
func parseFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("grid-mirror", flag.ContinueOnError)

	addr := fs.String("address", "",
		fmt.Sprintf("Адрес HTTP-сервера (env: SERVER_ADDRESS, default: %s)", cfg.ServerAddr))
	dsn := fs.String("database-dsn", "",
		"Строка подключения к PostgreSQL (env: DATABASE_DSN)")
	secret := fs.String("jwt-secret", "",
		"Секрет токенов ингеста и администрирования (env: JWT_SECRET)")
	window := fs.Int("sync-window", 0,
		fmt.Sprintf("Окно буферизации конвейера (env: SYNC_WINDOW, default: %d)", cfg.SyncWindow))
	storageTimeout := fs.Duration("storage-timeout", 0,
		fmt.Sprintf("Таймаут атомарного юнита (env: STORAGE_TIMEOUT, default: %s)", cfg.StorageTimeout))
	certFile := fs.String("cert-file", "",
		"Путь к файлу TLS-сертификата (env: CERT_FILE)")
	keyFile := fs.String("key-file", "",
		"Путь к файлу TLS-ключа (env: KEY_FILE)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("ошибка разбора флагов: %w", err)
	}

	// Флаги имеют приоритет над окружением
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	if *secret != "" {
		cfg.JWTSecret = *secret
	}
	if *window > 0 {
		cfg.SyncWindow = *window
	}
	if *storageTimeout > time.Duration(0) {
		cfg.StorageTimeout = *storageTimeout
	}
	if *certFile != "" {
		cfg.CertFile = *certFile
		cfg.EnableHTTPS = true
	}
	if *keyFile != "" {
		cfg.KeyFile = *keyFile
	}

	// Проверяем обязательные параметры
	if cfg.DatabaseDSN == "" {
		return errors.New("не указана строка подключения к БД (--database-dsn или DATABASE_DSN)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("не указан секрет токенов (--jwt-secret или JWT_SECRET)")
	}
	if cfg.EnableHTTPS && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return errors.New("для HTTPS нужны пути к сертификату и ключу (--cert-file/--key-file или CERT_FILE/KEY_FILE)")
	}

	return nil
}
