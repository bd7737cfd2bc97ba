package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sqlagent/internal/agent"
	"sqlagent/internal/config"
	"sqlagent/internal/database"
	"sqlagent/internal/llm"
	"sqlagent/internal/schema"
	"sqlagent/internal/server"
	"sqlagent/internal/service"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		// Поставщики зависимостей
		fx.Provide(
			provideConfig,
			provideLogger,
			database.NewHistoryDB,
			database.NewWarehouse,
			storage.Build,
			provideLLMClient,
			provideSchemaManager,
			providePipeline,
			provideQueryService,
			server.NewServer,
		),

		// Хуки жизненного цикла
		fx.Invoke(runMigrations),
		fx.Invoke(registerLifecycleHooks),
	)

	// Запуск приложения с остановкой
	runWithGracefulShutdown(app)
}

// provideConfig загружает и предоставляет конфигурацию приложения
func provideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// provideLogger создает и настраивает логгер на основе конфигурации
func provideLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.WithField("config", cfg.String()).Info("Запуск SQL-агента")
	return logger
}

// provideLLMClient создает клиент языковой модели
func provideLLMClient(cfg config.Config, logger *logrus.Logger) (llm.Client, error) {
	return llm.NewClient(llm.FromAppConfig(cfg), logger)
}

// provideSchemaManager создает менеджер схем warehouse
func provideSchemaManager(cfg config.Config, warehouse *sql.DB, logger *logrus.Logger) *schema.Manager {
	var cache schema.Cache
	if cfg.Cache.Enabled {
		cache = schema.NewRedisCache(cfg.Cache)
	}
	return schema.NewManager(warehouse, cfg.Warehouse.Driver, cache, cfg.CacheTTL(), logger)
}

// providePipeline собирает конвейер обработки вопросов
func providePipeline(
	cfg config.Config,
	client llm.Client,
	schemas *schema.Manager,
	warehouse *sql.DB,
	logger *logrus.Logger,
) service.Pipeline {
	executor := agent.NewExecutor(warehouse, cfg.Warehouse.MaxRows, logger)
	return agent.New(client, schemas, executor, cfg.Warehouse.Driver, agent.Options{
		MaxRetries:   cfg.Agent.MaxRetries,
		DefaultTable: cfg.Agent.DefaultTable,
		SummaryRows:  cfg.Agent.MaxSummaryRows,
	}, logger)
}

// provideQueryService создает сервис запросов со всеми зависимостями
func provideQueryService(
	db *gorm.DB,
	pipeline service.Pipeline,
	store storage.Storage,
	cfg config.Config,
	logger *logrus.Logger,
) service.QueryService {
	return service.NewQueryServiceFromDeps(db, pipeline, store, cfg.Paths, logger)
}

// runMigrations выполняет миграции истории запросов при старте
func runMigrations(db *gorm.DB, logger *logrus.Logger) error {
	if err := database.AutoMigrate(db); err != nil {
		logger.WithError(err).Error("Ошибка выполнения миграций")
		return err
	}
	return nil
}

// registerLifecycleHooks настраивает хуки жизненного цикла приложения
func registerLifecycleHooks(
	srv *server.Server,
	cfg config.Config,
	logger *logrus.Logger,
	lc fx.Lifecycle,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Запуск HTTP сервера")
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Error("Не удалось запустить HTTP сервер")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Завершение работы HTTP сервера")
			return srv.Shutdown(ctx)
		},
	})
}

// runWithGracefulShutdown обрабатывает жизненный цикл приложения с обработкой сигналов
func runWithGracefulShutdown(app *fx.App) {
	// Создаем контексты
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем приложение с таймаутом
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		logrus.WithError(err).Fatal("Не удалось запустить приложение")
	}

	// Ожидаем сигнал завершения
	<-quit
	logrus.Info("Получен сигнал завершения работы")

	// Грациозное завершение с таймаутом
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logrus.WithError(err).Error("Ошибка при завершении работы")
		os.Exit(1)
	}

	logrus.Info("SQL-агент остановлен корректно")
}
