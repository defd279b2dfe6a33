package repository

import (
	"context"
	"exam_eval_backend/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 试卷、答卷文件夹、答卷与页面
type DocumentRepository struct {
	DB *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) CreateQuestionPaper(ctx context.Context, qp *model.QuestionPaper) error {
	return r.DB.WithContext(ctx).Create(qp).Error
}

func (r *DocumentRepository) FindQuestionPaperByID(ctx context.Context, id string) (*model.QuestionPaper, error) {
	var qp model.QuestionPaper
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&qp).Error
	return &qp, err
}

// LatestQuestionPaper 所有调用方统一使用该排序选取“当前”试卷
func (r *DocumentRepository) LatestQuestionPaper(ctx context.Context, collectionID string) (*model.QuestionPaper, error) {
	var qp model.QuestionPaper
	err := r.DB.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("created_at DESC, id DESC").
		First(&qp).Error
	return &qp, err
}

func (r *DocumentRepository) ListQuestionPapers(ctx context.Context, collectionID string) ([]*model.QuestionPaper, error) {
	var qps []*model.QuestionPaper
	err := r.DB.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("created_at DESC, id DESC").
		Find(&qps).Error
	return qps, err
}

func (r *DocumentRepository) SetSchemaPath(ctx context.Context, id, schemaPath string) error {
	return r.DB.WithContext(ctx).Model(&model.QuestionPaper{}).
		Where("id = ?", id).
		Update("schema_path", schemaPath).
		Error
}

func (r *DocumentRepository) CreateAnswerFolder(ctx context.Context, folder *model.AnswerFolder) error {
	return r.DB.WithContext(ctx).Create(folder).Error
}

func (r *DocumentRepository) FindAnswerFolderByID(ctx context.Context, id string) (*model.AnswerFolder, error) {
	var folder model.AnswerFolder
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&folder).Error
	return &folder, err
}

// CreateAnswerScript 答卷与其全部页面在同一事务中写入
func (r *DocumentRepository) ListAnswerFolders(ctx context.Context, collectionID string) ([]*model.AnswerFolder, error) {
	var folders []*model.AnswerFolder
	err := r.DB.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("created_at ASC, id ASC").
		Find(&folders).Error
	return folders, err
}

func (r *DocumentRepository) ListAnswerScriptsByFolder(ctx context.Context, folderID string) ([]*model.AnswerScript, error) {
	var scripts []*model.AnswerScript
	err := r.DB.WithContext(ctx).
		Where("answer_folder_id = ?", folderID).
		Order("created_at ASC, id ASC").
		Find(&scripts).Error
	return scripts, err
}

func (r *DocumentRepository) CreateAnswerScript(ctx context.Context, script *model.AnswerScript, pages []model.Page) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Pages").Create(script).Error; err != nil {
			return err
		}
		for i := range pages {
			pages[i].AnswerScriptID = script.ID
		}
		if len(pages) > 0 {
			if err := tx.Create(&pages).Error; err != nil {
				return err
			}
		}
		script.Pages = pages
		return nil
	})
}

func (r *DocumentRepository) FindAnswerScriptByID(ctx context.Context, id string) (*model.AnswerScript, error) {
	var script model.AnswerScript
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&script).Error
	return &script, err
}

func (r *DocumentRepository) ListAnswerScripts(ctx context.Context, collectionID string, page, limit int) ([]*model.AnswerScript, int64, error) {
	var (
		scripts []*model.AnswerScript
		total   int64
	)
	query := r.DB.WithContext(ctx).Model(&model.AnswerScript{}).Where("collection_id = ?", collectionID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at ASC, id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&scripts).Error
	return scripts, total, err
}

// AnswerScriptIDs 评阅启动时的答卷快照
func (r *DocumentRepository) AnswerScriptIDs(ctx context.Context, collectionID string) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.AnswerScript{}).
		Where("collection_id = ?", collectionID).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *DocumentRepository) PagesByScript(ctx context.Context, scriptID string) ([]*model.Page, error) {
	var pages []*model.Page
	err := r.DB.WithContext(ctx).
		Where("answer_script_id = ?", scriptID).
		Order("page_no ASC").
		Find(&pages).Error
	return pages, err
}

func (r *DocumentRepository) FindPageByID(ctx context.Context, id string) (*model.Page, error) {
	var page model.Page
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&page).Error
	return &page, err
}
