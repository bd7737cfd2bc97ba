package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Server содержит настройки HTTP-сервера.
type Server struct {
	Address string `mapstructure:"address"`
	Debug   bool   `mapstructure:"debug"`
}

// DB содержит параметры подключения к БД истории запросов.
type DB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Warehouse describes the analytics database that generated SQL runs against.
type Warehouse struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	MaxRows int    `mapstructure:"max_rows"`
}

// LLM holds the language model provider settings.
type LLM struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Cache holds the Redis schema cache settings.
type Cache struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// Storage описывает настройки хранилища файлов.
type Storage struct {
	Type     string `mapstructure:"type"`
	BasePath string `mapstructure:"basepath"`
	S3       S3     `mapstructure:"s3"`
}

// S3 содержит настройки для S3-совместимого хранилища.
type S3 struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Paths holds the artifact directories inside the storage backend.
type Paths struct {
	Queries string `mapstructure:"queries"`
	Output  string `mapstructure:"output"`
}

// Agent holds pipeline tuning knobs.
type Agent struct {
	MaxRetries     int    `mapstructure:"max_retries"`
	DefaultTable   string `mapstructure:"default_table"`
	MaxSummaryRows int    `mapstructure:"max_summary_rows"`
}

// Logging содержит настройки логирования.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config объединяет все разделы конфигурации.
type Config struct {
	Server    Server    `mapstructure:"server"`
	DB        DB        `mapstructure:"database"`
	Warehouse Warehouse `mapstructure:"warehouse"`
	LLM       LLM       `mapstructure:"llm"`
	Cache     Cache     `mapstructure:"cache"`
	Storage   Storage   `mapstructure:"storage"`
	Paths     Paths     `mapstructure:"paths"`
	Agent     Agent     `mapstructure:"agent"`
	Logging   Logging   `mapstructure:"logging"`
}

// Load читает конфигурацию из файла и окружения с помощью viper.
func Load() (Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/sqlagent")

	// Настройка для environment variables
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Значения по умолчанию
	setDefaults()

	// Привязка environment variables к конфигурации
	bindEnvironmentVariables()

	// Чтение файла конфигурации (опционально)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		// Если файл конфигурации не найден, продолжаем с environment variables и defaults
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Валидация конфигурации
	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	setDefaults()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile подгружает .env, если он есть рядом с бинарником или выше по дереву.
func loadEnvFile() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.debug", true)

	// History database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "sqlagent.db")

	// Warehouse defaults
	viper.SetDefault("warehouse.driver", "sqlite")
	viper.SetDefault("warehouse.dsn", "warehouse.db")
	viper.SetDefault("warehouse.max_rows", 1000)

	// LLM defaults
	viper.SetDefault("llm.provider", "lamini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "meta-llama/Meta-Llama-3.1-8B-Instruct")
	viper.SetDefault("llm.endpoint", "")
	viper.SetDefault("llm.timeout_seconds", 60)

	// Cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.address", "localhost:6379")
	viper.SetDefault("cache.password", "")
	viper.SetDefault("cache.db", 0)
	viper.SetDefault("cache.ttl_seconds", 600)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.basepath", "./data")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "sqlagent-bucket")
	viper.SetDefault("storage.s3.endpoint", "")
	viper.SetDefault("storage.s3.access_key", "")
	viper.SetDefault("storage.s3.secret_key", "")

	// Artifact paths
	viper.SetDefault("paths.queries", "sql_queries")
	viper.SetDefault("paths.output", "output")

	// Agent defaults
	viper.SetDefault("agent.max_retries", 3)
	viper.SetDefault("agent.default_table", "sales_data")
	viper.SetDefault("agent.max_summary_rows", 15)

	// Logging defaults
	viper.SetDefault("logging.level", "debug")
	viper.SetDefault("logging.format", "text")
}

// bindEnvironmentVariables привязывает переменные окружения к конфигурации
func bindEnvironmentVariables() {
	// Server
	viper.BindEnv("server.address", "APP_SERVER_ADDRESS")
	viper.BindEnv("server.debug", "APP_SERVER_DEBUG")

	// History database
	viper.BindEnv("database.driver", "APP_DATABASE_DRIVER")
	viper.BindEnv("database.dsn", "APP_DATABASE_DSN")

	// Warehouse
	viper.BindEnv("warehouse.driver", "APP_WAREHOUSE_DRIVER")
	viper.BindEnv("warehouse.dsn", "APP_WAREHOUSE_DSN")
	viper.BindEnv("warehouse.max_rows", "APP_WAREHOUSE_MAX_ROWS")

	// LLM
	viper.BindEnv("llm.provider", "APP_LLM_PROVIDER")
	viper.BindEnv("llm.api_key", "LAMINI_API_KEY")
	viper.BindEnv("llm.model", "APP_LLM_MODEL")
	viper.BindEnv("llm.endpoint", "APP_LLM_ENDPOINT")

	// Cache
	viper.BindEnv("cache.enabled", "APP_CACHE_ENABLED")
	viper.BindEnv("cache.address", "APP_CACHE_ADDRESS")
	viper.BindEnv("cache.password", "APP_CACHE_PASSWORD")

	// Storage
	viper.BindEnv("storage.type", "APP_STORAGE_TYPE")
	viper.BindEnv("storage.basepath", "APP_STORAGE_BASEPATH")
	viper.BindEnv("storage.s3.region", "APP_STORAGE_S3_REGION")
	viper.BindEnv("storage.s3.bucket", "APP_STORAGE_S3_BUCKET")
	viper.BindEnv("storage.s3.endpoint", "APP_STORAGE_S3_ENDPOINT")
	viper.BindEnv("storage.s3.access_key", "APP_STORAGE_S3_ACCESS_KEY")
	viper.BindEnv("storage.s3.secret_key", "APP_STORAGE_S3_SECRET_KEY")

	// Logging
	viper.BindEnv("logging.level", "APP_LOGGING_LEVEL")
	viper.BindEnv("logging.format", "APP_LOGGING_FORMAT")
}

// validateConfig проверяет корректность конфигурации
func validateConfig(cfg Config) error {
	// Проверка адреса сервера
	if cfg.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	// Проверка настроек базы данных
	if cfg.DB.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if cfg.Warehouse.Driver != "sqlite" && cfg.Warehouse.Driver != "postgres" {
		return fmt.Errorf("warehouse driver must be 'sqlite' or 'postgres', got: %s", cfg.Warehouse.Driver)
	}
	if cfg.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse DSN cannot be empty")
	}
	if cfg.Warehouse.MaxRows <= 0 {
		return fmt.Errorf("warehouse max_rows must be positive")
	}

	if cfg.LLM.Provider == "" {
		return fmt.Errorf("llm provider cannot be empty")
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm model cannot be empty")
	}

	if cfg.Cache.Enabled && cfg.Cache.Address == "" {
		return fmt.Errorf("cache address cannot be empty when cache is enabled")
	}

	// Проверка настроек хранилища
	if cfg.Storage.Type != "local" && cfg.Storage.Type != "s3" {
		return fmt.Errorf("storage type must be 'local' or 's3', got: %s", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "local" && cfg.Storage.BasePath == "" {
		return fmt.Errorf("storage basepath cannot be empty for local storage")
	}
	if cfg.Storage.Type == "s3" {
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region cannot be empty")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
	}

	if cfg.Agent.MaxRetries <= 0 {
		return fmt.Errorf("agent max_retries must be positive")
	}
	if cfg.Agent.DefaultTable == "" {
		return fmt.Errorf("agent default_table cannot be empty")
	}

	// Проверка уровня логирования
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	isValidLevel := false
	for _, level := range validLogLevels {
		if strings.ToLower(cfg.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid logging level: %s. Valid levels: %v", cfg.Logging.Level, validLogLevels)
	}

	return nil
}

// LLMTimeout возвращает таймаут LLM-запроса как time.Duration.
func (c Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// CacheTTL возвращает TTL кэша схем как time.Duration.
func (c Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// IsDevelopment возвращает true, если приложение запущено в режиме разработки
func (c Config) IsDevelopment() bool {
	return c.Server.Debug
}

// IsProduction возвращает true, если приложение запущено в production режиме
func (c Config) IsProduction() bool {
	return !c.Server.Debug
}

// String возвращает строковое представление конфигурации (без чувствительных данных)
func (c Config) String() string {
	return fmt.Sprintf("Config{Server: %+v, DB: {Driver: %s, DSN: [HIDDEN]}, Warehouse: {Driver: %s, DSN: [HIDDEN]}, LLM: {Provider: %s, Model: %s}, Storage: {Type: %s, BasePath: %s}, Logging: %+v}",
		c.Server, c.DB.Driver, c.Warehouse.Driver, c.LLM.Provider, c.LLM.Model, c.Storage.Type, c.Storage.BasePath, c.Logging)
}
