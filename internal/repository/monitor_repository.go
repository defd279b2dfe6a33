package repository

import (
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type MonitorRepository struct {
	DB *gorm.DB
}

func NewMonitorRepository(db *gorm.DB) *MonitorRepository {
	return &MonitorRepository{DB: db}
}

// Reset 不存在则创建，存在则清零计数并置为 running
func (r *MonitorRepository) Reset(ctx context.Context, collectionID string, total int, force bool) (*model.EvaluationMonitor, error) {
	var monitor model.EvaluationMonitor
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("collection_id = ?", collectionID).First(&monitor).Error
		now := time.Now()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			monitor = model.EvaluationMonitor{
				CollectionID: collectionID,
				TotalDocs:    total,
				Status:       model.MonitorRunning,
				Force:        force,
				StartedAt:    now,
			}
			return tx.Create(&monitor).Error
		}
		if err != nil {
			return err
		}

		monitor.TotalDocs = total
		monitor.EvaluatedDocs = 0
		monitor.Status = model.MonitorRunning
		monitor.Force = force
		monitor.StartedAt = now
		monitor.FinishedAt = nil
		return tx.Model(&monitor).Select("total_docs", "evaluated_docs", "status", "force_rerun", "started_at", "finished_at").
			Updates(&monitor).Error
	})
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// Increment 原子自增，不依赖读出的旧值
func (r *MonitorRepository) Increment(ctx context.Context, collectionID string) error {
	res := r.DB.WithContext(ctx).Model(&model.EvaluationMonitor{}).
		Where("collection_id = ?", collectionID).
		Update("evaluated_docs", gorm.Expr("evaluated_docs + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *MonitorRepository) FindByCollectionID(ctx context.Context, collectionID string) (*model.EvaluationMonitor, error) {
	var monitor model.EvaluationMonitor
	err := r.DB.WithContext(ctx).Where("collection_id = ?", collectionID).First(&monitor).Error
	return &monitor, err
}

func (r *MonitorRepository) Finish(ctx context.Context, collectionID string, status model.MonitorStatus) error {
	now := time.Now()
	return r.DB.WithContext(ctx).Model(&model.EvaluationMonitor{}).
		Where("collection_id = ?", collectionID).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": &now,
		}).Error
}
