package service

import (
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"

	"gorm.io/gorm"
)

// ProgressMonitor 集合级进度，按答卷计数而非按页
type ProgressMonitor struct {
	Repo *repository.MonitorRepository
}

func NewProgressMonitor(repo *repository.MonitorRepository) *ProgressMonitor {
	return &ProgressMonitor{Repo: repo}
}

func (m *ProgressMonitor) Initialize(ctx context.Context, collectionID string, total int, force bool) (*model.EvaluationMonitor, error) {
	return m.Repo.Reset(ctx, collectionID, total, force)
}

func (m *ProgressMonitor) Increment(ctx context.Context, collectionID string) error {
	return m.Repo.Increment(ctx, collectionID)
}

func (m *ProgressMonitor) IsComplete(ctx context.Context, collectionID string) (bool, error) {
	monitor, err := m.Get(ctx, collectionID)
	if err != nil {
		return false, err
	}
	return monitor.IsComplete(), nil
}

func (m *ProgressMonitor) Get(ctx context.Context, collectionID string) (*model.EvaluationMonitor, error) {
	monitor, err := m.Repo.FindByCollectionID(ctx, collectionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.NewPipelineError(util.ErrDocumentNotFound, "no evaluation run for collection", nil)
	}
	return monitor, err
}

func (m *ProgressMonitor) Finish(ctx context.Context, collectionID string, status model.MonitorStatus) error {
	return m.Repo.Finish(ctx, collectionID, status)
}
