package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"sqlagent/internal/models"
	"sqlagent/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// ExcelResultExporter renders stored result rows into an xlsx workbook.
type ExcelResultExporter struct {
	logger *logrus.Logger
}

// NewExcelResultExporter создает новый генератор Excel файлов результатов
func NewExcelResultExporter(logger *logrus.Logger) ResultExporter {
	return &ExcelResultExporter{logger: logger}
}

// Export генерирует Excel файл с результатами запроса
func (g *ExcelResultExporter) Export(ctx context.Context, run *models.QueryRun) (io.Reader, string, error) {
	logger := g.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"rows":   len(run.ResultSample),
	})

	logger.Info("Генерация Excel файла результатов")

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Results"
	f.SetSheetName("Sheet1", sheet)

	// Стиль для заголовков
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		logger.WithError(err).Warn("Ошибка создания стиля заголовка")
	}

	// Колонки в стабильном порядке
	columns := collectColumns(run.ResultSample)

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, col)
		if headerStyle != 0 {
			f.SetCellStyle(sheet, cell, cell, headerStyle)
		}
	}

	// Данные
	for rowIndex, row := range run.ResultSample {
		for colIndex, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			f.SetCellValue(sheet, cell, row[col])
		}
	}

	// Метаданные запроса на отдельном листе
	metaSheet := "Query"
	f.NewSheet(metaSheet)
	meta := [][]interface{}{
		{"Question", run.Question},
		{"Table", run.Table},
		{"SQL", run.SQLText},
		{"Row count", run.RowCount},
		{"Created", run.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	for rowIndex, pair := range meta {
		for colIndex, value := range pair {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, rowIndex+1)
			f.SetCellValue(metaSheet, cell, value)
		}
	}

	if len(columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(columns))
		f.SetColWidth(sheet, "A", last, 20)
	}
	f.SetColWidth(metaSheet, "A", "B", 30)

	var buffer bytes.Buffer
	if err := f.Write(&buffer); err != nil {
		logger.WithError(err).Error("Ошибка записи Excel файла")
		return nil, "", fmt.Errorf("ошибка генерации Excel файла: %w", err)
	}

	filename := fmt.Sprintf("run_%d_%s.xlsx", run.ID, time.Now().Format("20060102_150405"))

	logger.WithField("filename", filename).Info("Excel файл сгенерирован успешно")
	return &buffer, filename, nil
}

// GetMimeType возвращает MIME тип для Excel файлов
func (g *ExcelResultExporter) GetMimeType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// GetFileExtension возвращает расширение файла для Excel
func (g *ExcelResultExporter) GetFileExtension() string {
	return "xlsx"
}

// collectColumns returns the union of row keys sorted alphabetically.
func collectColumns(rows models.Rows) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// ResultFileStorageImpl реализация хранилища файлов результатов
type ResultFileStorageImpl struct {
	storage storage.Storage
	logger  *logrus.Logger
}

// NewResultFileStorage создает новое хранилище файлов результатов
func NewResultFileStorage(storage storage.Storage, logger *logrus.Logger) ResultFileStorage {
	return &ResultFileStorageImpl{
		storage: storage,
		logger:  logger,
	}
}

// Save сохраняет файл в хранилище
func (s *ResultFileStorageImpl) Save(ctx context.Context, key string, data io.Reader) error {
	return s.storage.Save(ctx, key, data)
}

// Get получает файл из хранилища
func (s *ResultFileStorageImpl) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.storage.Get(ctx, key)
}

// Delete удаляет файл из хранилища
func (s *ResultFileStorageImpl) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// Exists проверяет, что файл еще есть в хранилище
func (s *ResultFileStorageImpl) Exists(ctx context.Context, key string) (bool, error) {
	return s.storage.Exists(ctx, key)
}

// PresignedURL возвращает временную ссылку на скачивание файла
func (s *ResultFileStorageImpl) PresignedURL(ctx context.Context, key string) (string, error) {
	return s.storage.GetPresignedURL(ctx, key, storage.DefaultPresignExpiration)
}

// GenerateKey генерирует ключ для файла результатов
func (s *ResultFileStorageImpl) GenerateKey(run *models.QueryRun) string {
	return fmt.Sprintf("results/%d/run_%d_%s.xlsx",
		run.ID,
		run.ID,
		time.Now().Format("20060102150405"))
}
