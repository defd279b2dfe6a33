package controller

import (
	"exam_eval_backend/internal/service"
	"exam_eval_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type EvaluationController struct {
	EvaluationService *service.EvaluationService
	CollectionService *service.CollectionService
}

func NewEvaluationController(evaluationService *service.EvaluationService, collectionService *service.CollectionService) *EvaluationController {
	return &EvaluationController{EvaluationService: evaluationService, CollectionService: collectionService}
}

// @Summary 开始评阅
// @Description 校验前置条件后立即返回进度记录，评阅在后台进行。force=true 时重新评阅已完成的页面
// @Tags 评阅
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param force query bool false "重新评阅" default(false)
// @Success 202 {object} util.Response{data=model.EvaluationMonitor}
// @Failure 409 {object} util.Response "已有评阅任务在运行"
// @Failure 422 {object} util.Response "缺少试卷或题目结构"
// @Failure 503 {object} util.Response "任务队列已满"
// @Router /api/collections/{id}/evaluate [post]
func (c *EvaluationController) StartEvaluation(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	force, err := strconv.ParseBool(ctx.DefaultQuery("force", "false"))
	if err != nil {
		util.BadRequest(ctx, "force must be a boolean")
		return
	}

	collection, err := c.CollectionService.Authorize(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	monitor, err := c.EvaluationService.StartEvaluation(ctx.Request.Context(), collection.ID, service.EvaluationOptions{Force: force})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Accepted(ctx, monitor)
}

// @Summary 重新提取题目结构
// @Tags 试卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 202 {object} util.Response
// @Router /api/question-papers/{id}/extract [post]
func (c *EvaluationController) ExtractQuestionPaper(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	qp, err := c.CollectionService.GetQuestionPaper(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	if err := c.EvaluationService.StartExtraction(ctx.Request.Context(), qp.ID); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Accepted(ctx, gin.H{"questionPaperId": qp.ID})
}
