package repository

import (
	"context"
	"exam_eval_backend/internal/model"

	"gorm.io/gorm"
)

type EvaluationRepository struct {
	DB *gorm.DB
}

func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: db}
}

// SavePageResults 以新一轮写入评阅记录并标记页面已评阅，同一事务
func (r *EvaluationRepository) SavePageResults(ctx context.Context, pageID string, records []model.Evaluation) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page model.Page
		if err := tx.Select("id", "evaluation_round").First(&page, "id = ?", pageID).Error; err != nil {
			return err
		}
		round := page.EvaluationRound + 1

		for i := range records {
			records[i].PageID = pageID
			records[i].Round = round
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.Page{}).
			Where("id = ?", pageID).
			Updates(map[string]interface{}{
				"is_evaluated":     true,
				"evaluation_round": round,
			}).Error
	})
}

// currentRound 只保留页面最新一轮的记录
const currentRound = "JOIN pages ON pages.id = evaluations.page_id AND evaluations.round = pages.evaluation_round AND pages.deleted_at IS NULL"

// ListByPage 页面当前有效的评阅记录
func (r *EvaluationRepository) ListByPage(ctx context.Context, pageID string) ([]*model.Evaluation, error) {
	var evaluations []*model.Evaluation
	err := r.DB.WithContext(ctx).
		Joins(currentRound).
		Where("evaluations.page_id = ?", pageID).
		Order("evaluations.created_at ASC, evaluations.id ASC").
		Find(&evaluations).Error
	return evaluations, err
}

// ListByScript 答卷当前有效的评阅记录，按页码排序
func (r *EvaluationRepository) ListByScript(ctx context.Context, scriptID string) ([]*model.Evaluation, error) {
	var evaluations []*model.Evaluation
	err := r.DB.WithContext(ctx).
		Joins(currentRound).
		Where("pages.answer_script_id = ?", scriptID).
		Order("pages.page_no ASC, evaluations.created_at ASC, evaluations.id ASC").
		Find(&evaluations).Error
	return evaluations, err
}

// ListHistoryByScript 包括历次重评在内的全部记录
func (r *EvaluationRepository) ListHistoryByScript(ctx context.Context, scriptID string) ([]*model.Evaluation, error) {
	var evaluations []*model.Evaluation
	err := r.DB.WithContext(ctx).
		Joins("JOIN pages ON pages.id = evaluations.page_id").
		Where("pages.answer_script_id = ?", scriptID).
		Order("pages.page_no ASC, evaluations.round ASC, evaluations.created_at ASC, evaluations.id ASC").
		Find(&evaluations).Error
	return evaluations, err
}

// ScriptScore 单份答卷汇总
type ScriptScore struct {
	AnswerScriptID string  `json:"answerScriptId"`
	Name           string  `json:"name"`
	ObtainedMarks  float64 `json:"obtainedMarks"`
	MaxMarks       float64 `json:"maxMarks"`
	Records        int64   `json:"records"`
}

// ScoresByCollection 每页只计最新一轮，强制重评不会重复累加
func (r *EvaluationRepository) ScoresByCollection(ctx context.Context, collectionID string, page, limit int) ([]ScriptScore, int64, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&model.AnswerScript{}).
		Where("collection_id = ?", collectionID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var scores []ScriptScore
	err := r.DB.WithContext(ctx).Model(&model.AnswerScript{}).
		Select("answer_scripts.id AS answer_script_id, answer_scripts.name AS name, "+
			"COALESCE(SUM(evaluations.obtained_marks), 0) AS obtained_marks, "+
			"COALESCE(SUM(evaluations.max_marks), 0) AS max_marks, "+
			"COUNT(evaluations.id) AS records").
		Joins("LEFT JOIN pages ON pages.answer_script_id = answer_scripts.id AND pages.deleted_at IS NULL").
		Joins("LEFT JOIN evaluations ON evaluations.page_id = pages.id AND evaluations.round = pages.evaluation_round AND evaluations.deleted_at IS NULL").
		Where("answer_scripts.collection_id = ?", collectionID).
		Group("answer_scripts.id, answer_scripts.name, answer_scripts.created_at").
		Order("answer_scripts.created_at ASC, answer_scripts.id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Scan(&scores).Error
	return scores, total, err
}
