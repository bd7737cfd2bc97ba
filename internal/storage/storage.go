package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"sqlagent/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	// Storage backends
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"

	// Retry settings
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	// Presigned URL lifetime
	DefaultPresignExpiration = 1 * time.Hour
)

// Storage abstracts where artifact and result files live. The agent writes
// small text artifacts and xlsx exports; both backends treat keys as
// slash-separated relative paths.
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	List(ctx context.Context, prefix string) ([]FileInfo, error)

	JoinPath(elem ...string) string
	ValidateKey(key string) error
}

// FileInfo описывает файл в хранилище
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsDir        bool      `json:"is_dir"`
}

// Build создает хранилище по конфигурации и оборачивает его в middleware
func Build(cfg config.Config, logger *logrus.Logger) (Storage, error) {
	var (
		store Storage
		err   error
	)

	switch cfg.Storage.Type {
	case StorageTypeS3:
		store, err = NewS3Storage(S3Config{
			Region:            cfg.Storage.S3.Region,
			Bucket:            cfg.Storage.S3.Bucket,
			Endpoint:          cfg.Storage.S3.Endpoint,
			AccessKey:         cfg.Storage.S3.AccessKey,
			SecretKey:         cfg.Storage.S3.SecretKey,
			ForcePathStyle:    true,
			PresignExpiration: DefaultPresignExpiration,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}

	case StorageTypeLocal:
		store, err = NewLocalStorage(LocalConfig{
			BasePath:    cfg.Storage.BasePath,
			Permissions: 0755,
			CreateDirs:  true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}

	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", cfg.Storage.Type)
	}

	return wrapWithMiddleware(store, logger), nil
}

// wrapWithMiddleware оборачивает хранилище в стандартный набор middleware
func wrapWithMiddleware(store Storage, logger *logrus.Logger) Storage {
	if logger != nil {
		store = NewLoggingMiddleware(store, logger)
	}
	store = NewRetryMiddleware(store, DefaultMaxRetries, DefaultRetryDelay, logger)
	store = NewValidationMiddleware(store, logger)
	return store
}
