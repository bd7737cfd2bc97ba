package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// RunExecutor executes a stored run by ID. Implemented by the query service;
// the processor only schedules.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, id uint)
}

// SyncBackgroundProcessor простая реализация фонового процессора на канале задач
type SyncBackgroundProcessor struct {
	executor      RunExecutor
	logger        *logrus.Logger
	tasks         chan Task
	cancellations sync.Map
}

// NewSyncBackgroundProcessor создает новый фоновый процессор
func NewSyncBackgroundProcessor(logger *logrus.Logger) *SyncBackgroundProcessor {
	return &SyncBackgroundProcessor{
		logger: logger,
		tasks:  make(chan Task, 100),
	}
}

// SetExecutor binds the run executor. Must be called before Start; the
// service and the processor reference each other, so binding happens after
// both are constructed.
func (p *SyncBackgroundProcessor) SetExecutor(executor RunExecutor) {
	p.executor = executor
}

// SubmitTask отправляет задачу на выполнение
func (p *SyncBackgroundProcessor) SubmitTask(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("очередь задач переполнена")
	}
}

// CancelTask отменяет задачу
func (p *SyncBackgroundProcessor) CancelTask(taskID string) error {
	if cancel, exists := p.cancellations.Load(taskID); exists {
		if cancelFunc, ok := cancel.(context.CancelFunc); ok {
			cancelFunc()
			return nil
		}
	}
	return fmt.Errorf("задача %s не найдена", taskID)
}

// Start запускает обработку фоновых задач
func (p *SyncBackgroundProcessor) Start() {
	for task := range p.tasks {
		go p.processTask(task)
	}
}

// Stop останавливает прием новых задач
func (p *SyncBackgroundProcessor) Stop() {
	close(p.tasks)
}

// processTask обрабатывает задачу
func (p *SyncBackgroundProcessor) processTask(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	defer cancel()

	// Сохраняем функцию отмены
	p.cancellations.Store(task.ID, cancel)
	defer p.cancellations.Delete(task.ID)

	switch task.Type {
	case TaskTypeQueryRun:
		id, ok := task.Data.(uint)
		if !ok {
			p.logger.Error("Неверный тип данных для задачи выполнения запроса")
			return
		}
		p.executor.ExecuteRun(ctx, id)
	default:
		p.logger.WithField("task_type", task.Type).Warn("Неизвестный тип задачи")
	}
}
