package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL
	"github.com/shannynalayna/grid/internal/config"
	"github.com/shannynalayna/grid/internal/handlers"
	"github.com/shannynalayna/grid/internal/ingest"
	"github.com/shannynalayna/grid/internal/ledger"
	appmiddleware "github.com/shannynalayna/grid/internal/middleware"
	"github.com/shannynalayna/grid/internal/repository"
	"github.com/shannynalayna/grid/internal/services"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db            *sqlx.DB
	feed          *ledger.ChannelFeed
	pipeline      *ingest.Pipeline
	queryHandler  *handlers.QueryHandler
	ingestHandler *handlers.IngestHandler
	adminHandler  *handlers.AdminHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска зеркала и возвращает ошибку.
func run() error {
	log.Println("Запуск зеркала состояния Grid...")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err = parseFlags(cfg, os.Args[1:]); err != nil {
		return err
	}

	// Контекст жизни процесса: отмена по сигналу завершения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		if closeErr := deps.db.Close(); closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
		}
	}()

	// Конвейер приема — единственный писатель в хранилище
	pipelineErrCh := make(chan error, 1)
	go func() {
		pipelineErrCh <- deps.pipeline.Run(ctx)
	}()

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      setupRouter(cfg, deps),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if cfg.EnableHTTPS {
			log.Printf("Запуск HTTPS-сервера на %s...", cfg.ServerAddr)
			serverErrCh <- server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			log.Printf("Запуск HTTP-сервера на %s...", cfg.ServerAddr)
			serverErrCh <- server.ListenAndServe()
		}
	}()

	var runErr error
	pipelineDone := false
	select {
	case <-ctx.Done():
		log.Println("Получен сигнал завершения, останавливаем сервер...")
	case err = <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		stop()
	case err = <-pipelineErrCh:
		pipelineDone = true
		if err != nil {
			runErr = fmt.Errorf("конвейер приема остановлен: %w", err)
		}
		stop()
	}

	// Graceful shutdown: перестаем принимать запросы, даем конвейеру
	// довести текущий атомарный юнит
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("Ошибка остановки HTTP-сервера: %v", shutdownErr)
	}

	if !pipelineDone {
		select {
		case <-pipelineErrCh:
		case <-shutdownCtx.Done():
			log.Println("Конвейер не завершился за отведенное время")
		}
	}

	log.Println("Зеркало остановлено.")
	return runErr
}

// setupDependencies инициализирует и возвращает все зависимости зеркала.
func setupDependencies(cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД
	deps.db, err = repository.NewPostgresDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	log.Println("Соединение с БД успешно установлено.")

	// 2. Создание репозиториев
	schemaRepo := repository.NewPostgresSchemaVersionRepository(deps.db)
	propertyRepo := repository.NewPostgresPropertyDefinitionVersionRepository(deps.db)
	orgRepo := repository.NewPostgresOrganizationVersionRepository(deps.db)
	watermarkRepo := repository.NewPostgresWatermarkRepository(deps.db)

	// 3. Создание сервисов
	projectorService := services.NewProjectorService(
		deps.db, schemaRepo, propertyRepo, orgRepo, watermarkRepo, cfg.StorageTimeout)
	queryService := services.NewQueryService(schemaRepo, propertyRepo, orgRepo)

	// 4. Лента событий и конвейер
	deps.feed = ledger.NewChannelFeed(cfg.FeedBuffer)
	deps.pipeline = ingest.NewPipeline(deps.feed, projectorService, watermarkRepo, ingest.Config{
		Window:               cfg.SyncWindow,
		RetryMaxAttempts:     cfg.RetryMaxAttempts,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
	})

	// 5. Создание обработчиков
	deps.queryHandler = handlers.NewQueryHandler(queryService)
	deps.ingestHandler = handlers.NewIngestHandler(deps.feed)
	deps.adminHandler = handlers.NewAdminHandler(deps.pipeline, deps.feed, watermarkRepo)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(cfg *config.Config, deps *dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	r.Route("/api", func(r chi.Router) {
		// Публичные читающие маршруты
		r.Get("/schema", deps.queryHandler.ListSchemas)
		r.Get("/schema/{name}", deps.queryHandler.GetSchema)
		r.Get("/organization", deps.queryHandler.ListOrganizations)
		r.Get("/organization/{id}", deps.queryHandler.GetOrganization)

		// Служебные маршруты (требуют аутентификации)
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.NewAuthenticator(cfg.JWTSecret))

			r.Route("/ingest", func(r chi.Router) {
				r.Post("/change-sets", deps.ingestHandler.PublishChangeSets)
				r.Post("/fork", deps.ingestHandler.PublishFork)
			})
			r.Route("/admin", func(r chi.Router) {
				r.Post("/rollback", deps.adminHandler.Rollback)
				r.Get("/status", deps.adminHandler.Status)
			})
		})
	})
	return r
}
