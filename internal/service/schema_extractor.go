package service

import (
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/monitoring"
	"exam_eval_backend/pkg/tracing"
	"path"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SchemaExtractor struct {
	DocRepo   *repository.DocumentRepository
	Storage   *StorageService
	Inference InferenceProvider
}

func NewSchemaExtractor(docRepo *repository.DocumentRepository, storage *StorageService, inference InferenceProvider) *SchemaExtractor {
	return &SchemaExtractor{DocRepo: docRepo, Storage: storage, Inference: inference}
}

// SchemaKey 试卷结构文件与试卷页面同目录
func SchemaKey(qp *model.QuestionPaper) string {
	return path.Join(qp.FolderPath, util.SchemaFileName)
}

// PageImageKeys 按页码顺序返回页面图片的存储键
func PageImageKeys(folder string, pageCount int) []string {
	keys := make([]string, pageCount)
	for i := range keys {
		keys[i] = path.Join(folder, PageImageName(i+1))
	}
	return keys
}

// Extract 全部页面一次调用模型，解析成功后写 qp_data.json 并记录路径
func (e *SchemaExtractor) Extract(ctx context.Context, questionPaperID string) (*model.ExamSchema, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.extract", attribute.String("question_paper_id", questionPaperID))
	defer span.End()

	schema, err := e.extract(ctx, questionPaperID)
	if err != nil {
		tracing.RecordError(span, err)
		monitoring.Extractions.WithLabelValues("failed").Inc()
		return nil, err
	}
	monitoring.Extractions.WithLabelValues("success").Inc()
	return schema, nil
}

func (e *SchemaExtractor) extract(ctx context.Context, questionPaperID string) (*model.ExamSchema, error) {
	qp, err := e.DocRepo.FindQuestionPaperByID(ctx, questionPaperID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NewPipelineError(util.ErrDocumentNotFound, "question paper "+questionPaperID, nil)
		}
		return nil, err
	}
	if qp.PageCount == 0 {
		return nil, util.NewPipelineError(util.ErrPrerequisiteMissing, "question paper has no rendered pages", nil)
	}

	raw, err := e.Inference.Invoke(ctx, PageImageKeys(qp.FolderPath, qp.PageCount), ExtractionPrompt)
	if err != nil {
		return nil, err
	}

	schema, err := ParseExamSchema(raw)
	if err != nil {
		logger.Log.Error("Question paper response was not a valid schema",
			zap.String("question_paper_id", qp.ID),
			zap.String("response", truncate(raw, 2000)),
			zap.Error(err),
		)
		return nil, err
	}

	key := SchemaKey(qp)
	if err := e.Storage.PutJSON(ctx, key, schema); err != nil {
		return nil, err
	}
	if err := e.DocRepo.SetSchemaPath(ctx, qp.ID, key); err != nil {
		return nil, err
	}

	logger.Log.Info("Question paper schema extracted",
		zap.String("question_paper_id", qp.ID),
		zap.Int("sections", len(schema.Sections)),
		zap.Int("questions", schema.QuestionCount()),
		zap.String("schema_path", key),
	)
	return schema, nil
}

// LoadSchema 读取已持久化的试卷结构
func (e *SchemaExtractor) LoadSchema(ctx context.Context, qp *model.QuestionPaper) (*model.ExamSchema, error) {
	if !qp.HasSchema() {
		return nil, util.NewPipelineError(util.ErrPrerequisiteMissing, "question paper schema not extracted", nil)
	}
	var schema model.ExamSchema
	if err := e.Storage.ReadJSON(ctx, *qp.SchemaPath, &schema); err != nil {
		return nil, util.NewPipelineError(util.ErrPrerequisiteMissing, "cannot load schema "+*qp.SchemaPath, err)
	}
	return &schema, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
