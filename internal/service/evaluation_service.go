package service

import (
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/monitoring"
	"exam_eval_backend/pkg/taskqueue"
	"exam_eval_backend/pkg/tracing"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EvaluationOptions struct {
	Force bool // 重新评阅已完成的页面
}

// EvaluationService 评阅流水线编排：同步校验前置条件并入队，后台逐份答卷逐页评阅
type EvaluationService struct {
	CollectionRepo *repository.CollectionRepository
	DocRepo        *repository.DocumentRepository
	Extractor      *SchemaExtractor
	Evaluator      *PageEvaluator
	Monitor        *ProgressMonitor
	Lease          RunLease
	Queue          *taskqueue.Queue
	StartupDelay   time.Duration
	// LeaseRenewInterval 大于 0 时在租约持有期间定期续租（Redis 租约带 TTL）
	LeaseRenewInterval time.Duration
}

func NewEvaluationService(
	collectionRepo *repository.CollectionRepository,
	docRepo *repository.DocumentRepository,
	extractor *SchemaExtractor,
	evaluator *PageEvaluator,
	monitor *ProgressMonitor,
	lease RunLease,
	queue *taskqueue.Queue,
	startupDelay time.Duration,
) *EvaluationService {
	return &EvaluationService{
		CollectionRepo: collectionRepo,
		DocRepo:        docRepo,
		Extractor:      extractor,
		Evaluator:      evaluator,
		Monitor:        monitor,
		Lease:          lease,
		Queue:          queue,
		StartupDelay:   startupDelay,
	}
}

// StartEvaluation 前置条件不满足时同步返回错误，否则初始化进度并立即返回
func (s *EvaluationService) StartEvaluation(ctx context.Context, collectionID string, opts EvaluationOptions) (*model.EvaluationMonitor, error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.start", attribute.String("collection_id", collectionID))
	defer span.End()

	monitor, err := s.startEvaluation(ctx, collectionID, opts)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return monitor, err
}

func (s *EvaluationService) startEvaluation(ctx context.Context, collectionID string, opts EvaluationOptions) (*model.EvaluationMonitor, error) {
	if _, err := s.CollectionRepo.FindByID(ctx, collectionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NewPipelineError(util.ErrCollectionNotFound, collectionID, nil)
		}
		return nil, err
	}

	qp, err := s.DocRepo.LatestQuestionPaper(ctx, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NewPipelineError(util.ErrPrerequisiteMissing, "collection has no question paper", nil)
		}
		return nil, err
	}
	if !qp.HasSchema() {
		return nil, util.NewPipelineError(util.ErrPrerequisiteMissing, "question paper schema not extracted yet", nil)
	}

	acquired, err := s.Lease.Acquire(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, util.NewPipelineError(util.ErrRunInProgress, collectionID, nil)
	}
	stopRenew := s.keepLease(ctx, collectionID)
	release := func() {
		stopRenew()
		if err := s.Lease.Release(context.WithoutCancel(ctx), collectionID); err != nil {
			logger.Log.Error("Failed to release run lease", zap.String("collection_id", collectionID), zap.Error(err))
		}
	}

	// 快照答卷列表，运行期间新上传的答卷不计入本次
	scriptIDs, err := s.DocRepo.AnswerScriptIDs(ctx, collectionID)
	if err != nil {
		release()
		return nil, err
	}

	monitor, err := s.Monitor.Initialize(ctx, collectionID, len(scriptIDs), opts.Force)
	if err != nil {
		release()
		return nil, err
	}
	if err := s.CollectionRepo.SetEvaluated(ctx, collectionID, false); err != nil {
		release()
		return nil, err
	}

	monitoring.ActiveRuns.Inc()
	err = s.Queue.Submit(ctx, "evaluate:"+collectionID, func(jobCtx context.Context) {
		defer release()
		defer monitoring.ActiveRuns.Dec()
		s.run(jobCtx, collectionID, qp, scriptIDs, opts)
	})
	if err != nil {
		monitoring.ActiveRuns.Dec()
		release()
		if finishErr := s.Monitor.Finish(context.WithoutCancel(ctx), collectionID, model.MonitorAborted); finishErr != nil {
			logger.Log.Error("Failed to mark run aborted", zap.String("collection_id", collectionID), zap.Error(finishErr))
		}
		return nil, util.NewPipelineError(util.ErrQueueFull, "evaluation not scheduled", err)
	}

	logger.Log.Info("Evaluation run scheduled",
		zap.String("collection_id", collectionID),
		zap.String("question_paper_id", qp.ID),
		zap.Int("answer_scripts", len(scriptIDs)),
		zap.Bool("force", opts.Force),
	)
	return monitor, nil
}

// keepLease 从获得租约起定期续租，返回的函数停止续租并等待后台协程退出
func (s *EvaluationService) keepLease(ctx context.Context, collectionID string) func() {
	if s.LeaseRenewInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.LeaseRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := s.Lease.Extend(ctx, collectionID)
				if err != nil {
					logger.Log.Warn("Failed to renew run lease", zap.String("collection_id", collectionID), zap.Error(err))
					continue
				}
				if !held {
					logger.Log.Error("Run lease lost", zap.String("collection_id", collectionID))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (s *EvaluationService) run(ctx context.Context, collectionID string, qp *model.QuestionPaper, scriptIDs []string, opts EvaluationOptions) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.run",
		attribute.String("collection_id", collectionID),
		attribute.Int("answer_scripts", len(scriptIDs)),
	)
	defer span.End()

	log := logger.Log.With(zap.String("collection_id", collectionID))
	started := time.Now()

	// 未走到结尾（启动等待被取消、panic）时一律记为 aborted
	status := model.MonitorAborted
	defer func() {
		s.finish(context.WithoutCancel(ctx), collectionID, status)
	}()

	if s.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.StartupDelay):
		}
	}

	schema, err := s.Extractor.LoadSchema(ctx, qp)
	if err != nil {
		tracing.RecordError(span, err)
		log.Error("Evaluation aborted: schema unavailable", zap.Error(err))
		return
	}

	for _, scriptID := range scriptIDs {
		s.evaluateScript(ctx, scriptID, schema, opts)
		// 无论各页成败，一份答卷处理完即计数
		if err := s.Monitor.Increment(ctx, collectionID); err != nil {
			log.Error("Failed to increment progress", zap.String("answer_script_id", scriptID), zap.Error(err))
		}
	}

	complete, err := s.Monitor.IsComplete(ctx, collectionID)
	if err != nil {
		log.Error("Failed to read progress", zap.Error(err))
	}
	if complete {
		if err := s.CollectionRepo.SetEvaluated(ctx, collectionID, true); err != nil {
			log.Error("Failed to mark collection evaluated", zap.Error(err))
		}
		status = model.MonitorCompleted
	} else {
		status = model.MonitorIncomplete
	}

	log.Info("Evaluation run finished",
		zap.Bool("complete", complete),
		zap.Duration("elapsed", time.Since(started)),
	)
}

func (s *EvaluationService) finish(ctx context.Context, collectionID string, status model.MonitorStatus) {
	if err := s.Monitor.Finish(ctx, collectionID, status); err != nil {
		logger.Log.Error("Failed to record run status",
			zap.String("collection_id", collectionID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	monitoring.RunsFinished.WithLabelValues(string(status)).Inc()
}

// evaluateScript 逐页顺序评阅，单页失败只记录日志
func (s *EvaluationService) evaluateScript(ctx context.Context, scriptID string, schema *model.ExamSchema, opts EvaluationOptions) {
	log := logger.Log.With(zap.String("answer_script_id", scriptID))

	pages, err := s.DocRepo.PagesByScript(ctx, scriptID)
	if err != nil {
		log.Error("Failed to load pages", zap.Error(err))
		return
	}

	var evaluated, failed, skipped int
	for _, page := range pages {
		if page.IsEvaluated && !opts.Force {
			skipped++
			monitoring.PagesEvaluated.WithLabelValues("skipped").Inc()
			continue
		}

		n, err := s.Evaluator.Evaluate(ctx, page, schema)
		if err != nil {
			failed++
			monitoring.PagesEvaluated.WithLabelValues("failed").Inc()
			log.Error("Page evaluation failed",
				zap.String("page_id", page.ID),
				zap.Int("page_no", page.PageNo),
				zap.Error(err),
			)
			continue
		}
		evaluated++
		monitoring.PagesEvaluated.WithLabelValues("success").Inc()
		log.Debug("Page evaluated", zap.String("page_id", page.ID), zap.Int("records", n))
	}

	log.Info("Answer script processed",
		zap.Int("pages", len(pages)),
		zap.Int("evaluated", evaluated),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
}

// StartExtraction 后台提取试卷结构；失败只记录日志，可再次触发
func (s *EvaluationService) StartExtraction(ctx context.Context, questionPaperID string) error {
	qp, err := s.DocRepo.FindQuestionPaperByID(ctx, questionPaperID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.NewPipelineError(util.ErrDocumentNotFound, "question paper "+questionPaperID, nil)
		}
		return err
	}
	if qp.PageCount == 0 {
		return util.NewPipelineError(util.ErrPrerequisiteMissing, "question paper has no rendered pages", nil)
	}

	err = s.Queue.Submit(ctx, "extract:"+qp.ID, func(jobCtx context.Context) {
		if _, err := s.Extractor.Extract(jobCtx, qp.ID); err != nil {
			logger.Log.Error("Question paper extraction failed",
				zap.String("question_paper_id", qp.ID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return util.NewPipelineError(util.ErrQueueFull, "extraction not scheduled", err)
	}
	return nil
}
