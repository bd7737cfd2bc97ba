package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"sqlagent/internal/agent"
	"sqlagent/internal/config"
	"sqlagent/internal/models"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// Таймауты
	defaultPipelineTimeout = 10 * time.Minute

	// Лимиты
	maxQuestionLength = 2000
)

// QueryService интерфейс для работы с запросами агента
type QueryService interface {
	Ask(ctx context.Context, question, table string) (*models.QueryRun, error)
	Submit(ctx context.Context, question, table string) (*models.QueryRun, error)
	Get(ctx context.Context, id uint) (*models.QueryRun, error)
	List(ctx context.Context, params ListRunParams) (*RunList, error)
	Cancel(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
	ResultWorkbook(ctx context.Context, id uint) (io.ReadCloser, string, error)
	ResultFileURL(ctx context.Context, id uint) (string, error)
	Artifact(ctx context.Context, name string) (io.ReadCloser, error)
	Artifacts(ctx context.Context) ([]ArtifactInfo, error)
}

// RunRepository интерфейс для работы с историей запросов в БД
type RunRepository interface {
	Create(ctx context.Context, run *models.QueryRun) error
	GetByID(ctx context.Context, id uint) (*models.QueryRun, error)
	List(ctx context.Context, params ListRunParams) ([]models.QueryRun, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
	UpdateStatus(ctx context.Context, id uint, status models.QueryRunStatus) error
}

// Pipeline runs a question end to end and returns the outcome.
type Pipeline interface {
	Run(ctx context.Context, question, table string) (*agent.Result, error)
}

// ArtifactWriter persists and serves the latest query and summary artifacts.
type ArtifactWriter interface {
	WriteQuery(ctx context.Context, question, sqlText string) error
	WriteResultJSON(ctx context.Context, rows []map[string]any) error
	WriteSummary(ctx context.Context, question, summary string) error
	Read(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]ArtifactInfo, error)
}

// ResultExporter renders result rows into a downloadable workbook.
type ResultExporter interface {
	Export(ctx context.Context, run *models.QueryRun) (io.Reader, string, error)
	GetMimeType() string
	GetFileExtension() string
}

// ResultFileStorage интерфейс для работы с файлами результатов
type ResultFileStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	GenerateKey(run *models.QueryRun) string
}

// BackgroundProcessor интерфейс для фоновой обработки
type BackgroundProcessor interface {
	SubmitTask(ctx context.Context, task Task) error
	CancelTask(taskID string) error
}

// Task представляет фоновую задачу
type Task struct {
	ID      string
	Type    TaskType
	Data    interface{}
	Timeout time.Duration
}

// TaskType тип задачи
type TaskType string

const (
	TaskTypeQueryRun TaskType = "query_run"
)

// ListRunParams параметры для получения списка запросов
type ListRunParams struct {
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	Status   *models.QueryRunStatus `json:"status,omitempty"`
	Search   string                 `json:"search,omitempty"`
	SortBy   string                 `json:"sort_by,omitempty"`
	SortDesc bool                   `json:"sort_desc,omitempty"`
}

// RunList результат получения списка запросов с пагинацией
type RunList struct {
	Runs       []models.QueryRun `json:"runs"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// QueryServiceImpl реализация сервиса запросов
type QueryServiceImpl struct {
	repository RunRepository
	pipeline   Pipeline
	artifacts  ArtifactWriter
	exporter   ResultExporter
	files      ResultFileStorage
	processor  BackgroundProcessor
	logger     *logrus.Logger

	// Канал для отмены выполнения
	cancellations sync.Map // map[uint]context.CancelFunc
}

// NewQueryService создает новый сервис запросов
func NewQueryService(
	repository RunRepository,
	pipeline Pipeline,
	artifacts ArtifactWriter,
	exporter ResultExporter,
	files ResultFileStorage,
	processor BackgroundProcessor,
	logger *logrus.Logger,
) *QueryServiceImpl {
	return &QueryServiceImpl{
		repository: repository,
		pipeline:   pipeline,
		artifacts:  artifacts,
		exporter:   exporter,
		files:      files,
		processor:  processor,
		logger:     logger,
	}
}

// Ask runs the pipeline synchronously and returns the completed run.
func (s *QueryServiceImpl) Ask(ctx context.Context, question, table string) (*models.QueryRun, error) {
	run, err := s.createRun(ctx, question, table)
	if err != nil {
		return nil, err
	}

	s.execute(ctx, run)

	return s.repository.GetByID(ctx, run.ID)
}

// Submit creates a run and schedules it for background execution.
func (s *QueryServiceImpl) Submit(ctx context.Context, question, table string) (*models.QueryRun, error) {
	run, err := s.createRun(ctx, question, table)
	if err != nil {
		return nil, err
	}

	task := Task{
		ID:      fmt.Sprintf("run_%d", run.ID),
		Type:    TaskTypeQueryRun,
		Data:    run.ID,
		Timeout: defaultPipelineTimeout,
	}

	if err := s.processor.SubmitTask(ctx, task); err != nil {
		s.logger.WithError(err).Error("Ошибка запуска фоновой обработки")
		s.repository.UpdateStatus(ctx, run.ID, models.StatusFailed)
		return nil, fmt.Errorf("ошибка запуска обработки запроса: %w", err)
	}

	return run, nil
}

func (s *QueryServiceImpl) createRun(ctx context.Context, question, table string) (*models.QueryRun, error) {
	if question == "" {
		return nil, fmt.Errorf("вопрос не может быть пустым")
	}
	if len(question) > maxQuestionLength {
		return nil, fmt.Errorf("вопрос превышает %d символов", maxQuestionLength)
	}

	run := &models.QueryRun{
		Question:  question,
		Table: table,
		Status:    models.StatusPending,
	}
	if err := s.repository.Create(ctx, run); err != nil {
		s.logger.WithError(err).Error("Ошибка сохранения запроса в БД")
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"question": question,
	}).Info("Запрос создан")

	return run, nil
}

// execute runs the pipeline for a stored run and records the outcome.
func (s *QueryServiceImpl) execute(ctx context.Context, run *models.QueryRun) {
	logger := s.logger.WithField("run_id", run.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancellations.Store(run.ID, cancel)
	defer s.cancellations.Delete(run.ID)

	if err := s.repository.UpdateStatus(runCtx, run.ID, models.StatusRunning); err != nil {
		logger.WithError(err).Error("Ошибка обновления статуса на running")
		return
	}

	result, err := s.pipeline.Run(runCtx, run.Question, run.Table)
	if err != nil {
		status := models.StatusFailed
		if runCtx.Err() == context.Canceled {
			status = models.StatusCanceled
		}
		s.repository.Update(ctx, run.ID, map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
		logger.WithError(err).Error("Обработка запроса завершилась с ошибкой")
		return
	}

	s.persistArtifacts(runCtx, result)

	sample := result.Rows
	if len(sample) > 15 {
		sample = sample[:15]
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":            models.StatusCompleted,
		"enhanced_question": result.EnhancedQuestion,
		"table_name":        result.Table,
		"sql_text":          result.SQL,
		"row_count":         len(result.Rows),
		"attempts":          result.Attempts,
		"duration_ms":       result.Duration.Milliseconds(),
		"summary":           result.Summary,
		"result_sample":     models.Rows(sample),
		"completed_at":      &now,
	}
	if err := s.repository.Update(ctx, run.ID, updates); err != nil {
		logger.WithError(err).Error("Ошибка сохранения результата запроса")
		return
	}

	logger.WithFields(logrus.Fields{
		"table":    result.Table,
		"rows":     len(result.Rows),
		"attempts": result.Attempts,
	}).Info("Запрос обработан успешно")
}

// persistArtifacts writes the latest-run artifact files. Failures are logged
// but never fail the run; the database record is the source of truth.
func (s *QueryServiceImpl) persistArtifacts(ctx context.Context, result *agent.Result) {
	if err := s.artifacts.WriteQuery(ctx, result.Question, result.SQL); err != nil {
		s.logger.WithError(err).Warn("Не удалось записать файл запроса")
	}
	if err := s.artifacts.WriteResultJSON(ctx, result.Rows); err != nil {
		s.logger.WithError(err).Warn("Не удалось записать файл результатов")
	}
	if err := s.artifacts.WriteSummary(ctx, result.Question, result.Summary); err != nil {
		s.logger.WithError(err).Warn("Не удалось записать файл саммари")
	}
}

// Get получает запрос по ID
func (s *QueryServiceImpl) Get(ctx context.Context, id uint) (*models.QueryRun, error) {
	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("запрос с ID %d не найден", id)
		}
		s.logger.WithError(err).WithField("run_id", id).Error("Ошибка получения запроса")
		return nil, fmt.Errorf("ошибка получения запроса: %w", err)
	}

	return run, nil
}

// List получает список запросов с пагинацией
func (s *QueryServiceImpl) List(ctx context.Context, params ListRunParams) (*RunList, error) {
	// Валидация параметров пагинации
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	runs, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка запросов")
		return nil, fmt.Errorf("ошибка получения списка запросов: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &RunList{
		Runs:       runs,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// Cancel отменяет выполнение запроса
func (s *QueryServiceImpl) Cancel(ctx context.Context, id uint) error {
	logger := s.logger.WithField("run_id", id)

	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("запрос с ID %d не найден", id)
		}
		return fmt.Errorf("ошибка получения запроса: %w", err)
	}

	if !run.Status.CanTransitionTo(models.StatusCanceled) {
		return fmt.Errorf("запрос в статусе %s нельзя отменить", run.Status)
	}

	taskID := fmt.Sprintf("run_%d", id)
	if err := s.processor.CancelTask(taskID); err != nil {
		logger.WithError(err).Debug("Задача не найдена в процессоре")
	}

	s.cancelRun(id)

	if err := s.repository.UpdateStatus(ctx, id, models.StatusCanceled); err != nil {
		return fmt.Errorf("ошибка обновления статуса запроса: %w", err)
	}

	logger.Info("Выполнение запроса отменено")
	return nil
}

// Delete удаляет запрос
func (s *QueryServiceImpl) Delete(ctx context.Context, id uint) error {
	logger := s.logger.WithField("run_id", id)

	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("запрос с ID %d не найден", id)
		}
		return fmt.Errorf("ошибка получения запроса: %w", err)
	}

	s.cancelRun(id)

	// Удаляем файл из хранилища, если он существует
	if run.HasResultFile() {
		if err := s.files.Delete(ctx, run.ResultKey); err != nil {
			logger.WithError(err).WithField("result_key", run.ResultKey).
				Error("Ошибка удаления файла результатов")
			// Не прерываем удаление запроса из-за ошибки удаления файла
		}
	}

	if err := s.repository.Delete(ctx, id); err != nil {
		logger.WithError(err).Error("Ошибка удаления запроса из БД")
		return fmt.Errorf("ошибка удаления запроса: %w", err)
	}

	logger.Info("Запрос удален успешно")
	return nil
}

// ResultWorkbook возвращает результаты запроса в виде Excel файла
func (s *QueryServiceImpl) ResultWorkbook(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", fmt.Errorf("запрос с ID %d не найден", id)
		}
		return nil, "", fmt.Errorf("ошибка получения запроса: %w", err)
	}

	if !run.IsCompleted() {
		return nil, "", fmt.Errorf("запрос еще не выполнен")
	}

	// Пробуем отдать ранее сохраненный файл
	if run.HasResultFile() {
		reader, err := s.files.Get(ctx, run.ResultKey)
		if err == nil {
			filename := fmt.Sprintf("run_%d.%s", run.ID, s.exporter.GetFileExtension())
			return reader, filename, nil
		}
		s.logger.WithError(err).WithField("result_key", run.ResultKey).
			Warn("Сохраненный файл недоступен, генерируем заново")
	}

	reader, filename, err := s.exporter.Export(ctx, run)
	if err != nil {
		return nil, "", fmt.Errorf("ошибка генерации файла результатов: %w", err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("ошибка чтения файла результатов: %w", err)
	}

	// Сохраняем копию в хранилище для повторных скачиваний
	key := s.files.GenerateKey(run)
	if err := s.files.Save(ctx, key, bytes.NewReader(data)); err != nil {
		s.logger.WithError(err).Warn("Не удалось сохранить файл результатов в хранилище")
	} else {
		s.repository.Update(ctx, run.ID, map[string]interface{}{"result_key": key})
	}

	return io.NopCloser(bytes.NewReader(data)), filename, nil
}

// ResultFileURL возвращает ссылку на сохраненный файл результатов
func (s *QueryServiceImpl) ResultFileURL(ctx context.Context, id uint) (string, error) {
	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", fmt.Errorf("запрос с ID %d не найден", id)
		}
		return "", fmt.Errorf("ошибка получения запроса: %w", err)
	}

	if !run.IsCompleted() {
		return "", fmt.Errorf("запрос еще не выполнен")
	}
	if !run.HasResultFile() {
		return "", fmt.Errorf("файл результатов еще не сгенерирован")
	}

	exists, err := s.files.Exists(ctx, run.ResultKey)
	if err != nil {
		return "", fmt.Errorf("ошибка проверки файла результатов: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("файл результатов не найден в хранилище")
	}

	url, err := s.files.PresignedURL(ctx, run.ResultKey)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации ссылки на файл: %w", err)
	}
	return url, nil
}

// Artifact возвращает содержимое файла артефакта последнего запроса
func (s *QueryServiceImpl) Artifact(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := s.artifacts.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("артефакт недоступен: %w", err)
	}
	return reader, nil
}

// Artifacts возвращает список имеющихся файлов артефактов
func (s *QueryServiceImpl) Artifacts(ctx context.Context) ([]ArtifactInfo, error) {
	infos, err := s.artifacts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка артефактов: %w", err)
	}
	return infos, nil
}

// ExecuteRun загружает запрос и выполняет его. Вызывается фоновым процессором.
func (s *QueryServiceImpl) ExecuteRun(ctx context.Context, id uint) {
	run, err := s.repository.GetByID(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("run_id", id).Error("Ошибка получения запроса для выполнения")
		return
	}
	if run.IsTerminal() {
		return
	}
	s.execute(ctx, run)
}

// cancelRun отменяет выполнение запроса
func (s *QueryServiceImpl) cancelRun(id uint) {
	if cancel, exists := s.cancellations.LoadAndDelete(id); exists {
		if cancelFunc, ok := cancel.(context.CancelFunc); ok {
			cancelFunc()
		}
	}
}

// NewQueryServiceFromDeps создает полностью настроенный сервис запросов
func NewQueryServiceFromDeps(
	db *gorm.DB,
	pipeline Pipeline,
	store storage.Storage,
	paths config.Paths,
	logger *logrus.Logger,
) QueryService {
	repository := NewGormRunRepository(db, logger)
	artifacts := NewFileArtifactWriter(store, paths, logger)
	exporter := NewExcelResultExporter(logger)
	files := NewResultFileStorage(store, logger)
	processor := NewSyncBackgroundProcessor(logger)

	svc := NewQueryService(repository, pipeline, artifacts, exporter, files, processor, logger)
	processor.SetExecutor(svc)

	// Запускаем обработку фоновых задач
	go processor.Start()

	return svc
}
