package service

import (
	"context"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/tracing"
	"path"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PageEvaluator struct {
	EvalRepo  *repository.EvaluationRepository
	Storage   *StorageService
	Inference InferenceProvider
}

func NewPageEvaluator(evalRepo *repository.EvaluationRepository, storage *StorageService, inference InferenceProvider) *PageEvaluator {
	return &PageEvaluator{EvalRepo: evalRepo, Storage: storage, Inference: inference}
}

// ResultKey <页面目录>/evaluation/<page id>_result.json
func ResultKey(page *model.Page) string {
	return path.Join(path.Dir(page.ImagePath), util.EvaluationDirName, page.ID+"_result.json")
}

// Evaluate 单页单次调用；失败时页面保持未评阅，返回写入的记录数
func (e *PageEvaluator) Evaluate(ctx context.Context, page *model.Page, schema *model.ExamSchema) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "page.evaluate",
		attribute.String("page_id", page.ID),
		attribute.Int("page_no", page.PageNo),
	)
	defer span.End()

	n, err := e.evaluate(ctx, page, schema)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return n, err
}

func (e *PageEvaluator) evaluate(ctx context.Context, page *model.Page, schema *model.ExamSchema) (int, error) {
	prompt, err := BuildEvaluationPrompt(schema)
	if err != nil {
		return 0, err
	}

	raw, err := e.Inference.Invoke(ctx, []string{page.ImagePath}, prompt)
	if err != nil {
		return 0, err
	}

	resp, err := DecodePageResponse(raw)
	if err != nil {
		logger.Log.Warn("Page evaluation response was not valid JSON",
			zap.String("page_id", page.ID),
			zap.String("response", truncate(raw, 2000)),
			zap.Error(err),
		)
		return 0, err
	}

	// 结果文件保存模型原文，分数修正只作用于记录
	key := ResultKey(page)
	if err := e.Storage.PutJSON(ctx, key, resp.Raw); err != nil {
		return 0, err
	}

	records := make([]model.Evaluation, 0, len(resp.Results))
	for _, r := range resp.Results {
		records = append(records, model.Evaluation{
			QuestionNo:         r.QuestionNo.StringPtr(),
			ObtainedMarks:      r.ObtainedMarks.Float64Ptr(),
			MaxMarks:           r.MaxMarks.Float64Ptr(),
			Feedback:           r.Feedback,
			EvaluationJSONPath: key,
		})
	}
	if err := e.EvalRepo.SavePageResults(ctx, page.ID, records); err != nil {
		return 0, err
	}
	page.IsEvaluated = true

	return len(records), nil
}
