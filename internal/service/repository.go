package service

import (
	"context"
	"time"

	"sqlagent/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormRunRepository реализация репозитория запросов для GORM
type GormRunRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormRunRepository создает новый GORM репозиторий запросов
func NewGormRunRepository(db *gorm.DB, logger *logrus.Logger) RunRepository {
	return &GormRunRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новый запрос в БД
func (r *GormRunRepository) Create(ctx context.Context, run *models.QueryRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetByID получает запрос по ID
func (r *GormRunRepository) GetByID(ctx context.Context, id uint) (*models.QueryRun, error) {
	var run models.QueryRun
	err := r.db.WithContext(ctx).First(&run, id).Error
	return &run, err
}

// List получает список запросов с фильтрацией и пагинацией
func (r *GormRunRepository) List(ctx context.Context, params ListRunParams) ([]models.QueryRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.QueryRun{})

	// Фильтрация по статусу
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	// Поиск. LOWER(...) LIKE работает и в postgres, и в sqlite.
	if params.Search != "" {
		searchPattern := "%" + params.Search + "%"
		query = query.Where("LOWER(question) LIKE LOWER(?) OR LOWER(summary) LIKE LOWER(?)",
			searchPattern, searchPattern)
	}

	// Подсчет общего количества
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Сортировка
	if params.SortBy != "" {
		order := params.SortBy
		if params.SortDesc {
			order += " DESC"
		}
		query = query.Order(order)
	} else {
		query = query.Order("created_at DESC")
	}

	// Пагинация
	offset := (params.Page - 1) * params.PageSize
	query = query.Offset(offset).Limit(params.PageSize)

	var runs []models.QueryRun
	err := query.Find(&runs).Error

	return runs, total, err
}

// Update обновляет запрос
func (r *GormRunRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.QueryRun{}).Where("id = ?", id).Updates(updates).Error
}

// Delete удаляет запрос
func (r *GormRunRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.QueryRun{}, id).Error
}

// UpdateStatus обновляет статус запроса
func (r *GormRunRepository) UpdateStatus(ctx context.Context, id uint, status models.QueryRunStatus) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}

	if status == models.StatusCompleted {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	return r.db.WithContext(ctx).Model(&models.QueryRun{}).Where("id = ?", id).Updates(updates).Error
}
