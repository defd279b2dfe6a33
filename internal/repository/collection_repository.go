package repository

import (
	"context"
	"exam_eval_backend/internal/model"

	"gorm.io/gorm"
)

type CollectionRepository struct {
	DB *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{DB: db}
}

func (r *CollectionRepository) Create(ctx context.Context, collection *model.Collection) error {
	return r.DB.WithContext(ctx).Create(collection).Error
}

func (r *CollectionRepository) FindByID(ctx context.Context, id string) (*model.Collection, error) {
	var collection model.Collection
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&collection).Error
	return &collection, err
}

// List ownerID 为 0 时返回全部（管理员）
func (r *CollectionRepository) List(ctx context.Context, ownerID uint, page, limit int) ([]*model.Collection, int64, error) {
	var (
		collections []*model.Collection
		total       int64
	)
	query := r.DB.WithContext(ctx).Model(&model.Collection{})
	if ownerID != 0 {
		query = query.Where("owner_id = ?", ownerID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&collections).Error
	return collections, total, err
}

func (r *CollectionRepository) Update(ctx context.Context, collection *model.Collection) error {
	return r.DB.WithContext(ctx).Save(collection).Error
}

func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.Collection{}).Error
}

func (r *CollectionRepository) SetEvaluated(ctx context.Context, id string, evaluated bool) error {
	return r.DB.WithContext(ctx).Model(&model.Collection{}).
		Where("id = ?", id).
		Update("is_evaluated", evaluated).
		Error
}
