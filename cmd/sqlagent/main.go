package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sqlagent/internal/agent"
	"sqlagent/internal/config"
	"sqlagent/internal/database"
	"sqlagent/internal/llm"
	"sqlagent/internal/schema"
	"sqlagent/internal/service"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (optional)")
		question    = flag.String("query", "", "natural-language question to answer")
		table       = flag.String("table", "", "force a specific warehouse table")
		interactive = flag.Bool("interactive", false, "run an interactive session")
		maxRetries  = flag.Int("max-retries", 0, "override pipeline retry limit")
	)
	flag.Parse()

	if *question == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "usage: sqlagent -query \"<question>\" [-table NAME] | sqlagent -interactive")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var (
		cfg config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *maxRetries > 0 {
		cfg.Agent.MaxRetries = *maxRetries
	}

	logger := newLogger(cfg)

	app, cleanup, err := buildApp(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer cleanup()

	ctx := context.Background()

	if *interactive {
		runInteractive(ctx, app, *table, logger)
		return
	}

	if err := runOnce(ctx, os.Stdout, app.service, *question, *table); err != nil {
		logger.WithError(err).Fatal("Запрос завершился с ошибкой")
	}
}

// previewRows caps how many result rows the CLI echoes back.
const previewRows = 5

// cliApp bundles the pieces the CLI needs.
type cliApp struct {
	service service.QueryService
	schemas *schema.Manager
}

// buildApp wires the pipeline without fx; the CLI is short-lived.
func buildApp(cfg config.Config, logger *logrus.Logger) (*cliApp, func(), error) {
	db, err := database.NewHistoryDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("history db: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	warehouse, err := database.NewWarehouse(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse: %w", err)
	}

	client, err := llm.NewClient(llm.FromAppConfig(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("llm client: %w", err)
	}

	var cache schema.Cache
	if cfg.Cache.Enabled {
		cache = schema.NewRedisCache(cfg.Cache)
	}
	schemas := schema.NewManager(warehouse, cfg.Warehouse.Driver, cache, cfg.CacheTTL(), logger)

	store, err := storage.Build(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}

	executor := agent.NewExecutor(warehouse, cfg.Warehouse.MaxRows, logger)
	pipeline := agent.New(client, schemas, executor, cfg.Warehouse.Driver, agent.Options{
		MaxRetries:   cfg.Agent.MaxRetries,
		DefaultTable: cfg.Agent.DefaultTable,
		SummaryRows:  cfg.Agent.MaxSummaryRows,
	}, logger)

	svc := service.NewQueryServiceFromDeps(db, pipeline, store, cfg.Paths, logger)

	cleanup := func() {
		warehouse.Close()
		if cache != nil {
			cache.Close()
		}
	}

	return &cliApp{service: svc, schemas: schemas}, cleanup, nil
}

// runOnce processes a single question and prints the outcome.
func runOnce(ctx context.Context, out io.Writer, svc service.QueryService, question, table string) error {
	start := time.Now()

	run, err := svc.Ask(ctx, question, table)
	if err != nil {
		return err
	}
	if run.IsFailed() {
		return fmt.Errorf("%s", run.Error)
	}

	fmt.Fprintf(out, "Table:    %s\n", run.Table)
	fmt.Fprintf(out, "SQL:\n%s\n\n", run.SQLText)
	fmt.Fprintf(out, "Rows:     %d (attempt %d, %s)\n", run.RowCount, run.Attempts, time.Since(start).Round(time.Millisecond))
	if len(run.ResultSample) > 0 {
		fmt.Fprint(out, agent.FormatRows(run.ResultSample, previewRows))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, run.Summary)
	return nil
}

// runInteractive reads questions from stdin until exit.
func runInteractive(ctx context.Context, app *cliApp, table string, logger *logrus.Logger) {
	fmt.Println("Введите вопрос (exit — выход, table NAME — сменить таблицу):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if name, ok := strings.CutPrefix(line, "table "); ok {
			table = strings.TrimSpace(name)
			fmt.Printf("Таблица: %s\n", table)
			continue
		}

		if err := runOnce(ctx, os.Stdout, app.service, line, table); err != nil {
			logger.WithError(err).Error("Запрос завершился с ошибкой")
		}
	}
}

// newLogger настраивает логгер для CLI
func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
