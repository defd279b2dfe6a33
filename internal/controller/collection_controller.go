package controller

import (
	"exam_eval_backend/internal/service"
	"exam_eval_backend/internal/util"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type CollectionController struct {
	CollectionService *service.CollectionService
}

func NewCollectionController(collectionService *service.CollectionService) *CollectionController {
	return &CollectionController{CollectionService: collectionService}
}

// @Summary 创建集合
// @Tags 集合管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param collection body service.CollectionRequest true "集合信息"
// @Success 201 {object} util.Response{data=model.Collection}
// @Router /api/collections [post]
func (c *CollectionController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CollectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	collection, err := c.CollectionService.Create(ctx.Request.Context(), user, req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, collection)
}

// @Summary 集合列表
// @Description 教师只能看到自己的集合，管理员可看到全部
// @Tags 集合管理
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/collections [get]
func (c *CollectionController) List(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePagination(ctx)
	result, err := c.CollectionService.List(ctx.Request.Context(), user, page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 集合详情
// @Tags 集合管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {object} util.Response{data=model.Collection}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/collections/{id} [get]
func (c *CollectionController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	collection, err := c.CollectionService.Authorize(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, collection)
}

// @Summary 更新集合
// @Tags 集合管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param collection body service.CollectionRequest true "集合信息"
// @Success 200 {object} util.Response{data=model.Collection}
// @Router /api/collections/{id} [put]
func (c *CollectionController) Update(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CollectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	collection, err := c.CollectionService.Update(ctx.Request.Context(), user, ctx.Param("id"), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, collection)
}

// @Summary 删除集合
// @Tags 集合管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {object} util.Response
// @Router /api/collections/{id} [delete]
func (c *CollectionController) Delete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.CollectionService.Delete(ctx.Request.Context(), user, ctx.Param("id")); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 集合下的试卷
// @Tags 试卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {object} util.Response{data=[]model.QuestionPaper}
// @Router /api/collections/{id}/question-papers [get]
func (c *CollectionController) ListQuestionPapers(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	papers, err := c.CollectionService.ListQuestionPapers(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, papers)
}

// @Summary 试卷详情
// @Tags 试卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.QuestionPaper}
// @Router /api/question-papers/{id} [get]
func (c *CollectionController) GetQuestionPaper(ctx *gin.Context) {
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
	util.Success(ctx, qp)
}

// @Summary 集合下的答卷
// @Tags 答卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/collections/{id}/answer-scripts [get]
func (c *CollectionController) ListAnswerScripts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePagination(ctx)
	result, err := c.CollectionService.ListAnswerScripts(ctx.Request.Context(), user, ctx.Param("id"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 答卷页面
// @Tags 答卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "答卷ID"
// @Success 200 {object} util.Response{data=[]model.Page}
// @Router /api/answer-scripts/{id}/pages [get]
func (c *CollectionController) ListPages(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	pages, err := c.CollectionService.ListPages(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, pages)
}

// @Summary 答卷评阅记录
// @Tags 评阅
// @Produce json
// @Security BearerAuth
// @Param id path string true "答卷ID"
// @Success 200 {object} util.Response{data=[]model.Evaluation}
// @Router /api/answer-scripts/{id}/evaluations [get]
func (c *CollectionController) ListScriptEvaluations(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	records, err := c.CollectionService.ListScriptEvaluations(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, records)
}

// @Summary 集合成绩汇总
// @Description 按答卷汇总得分，未评阅的答卷得分为 0
// @Tags 评阅
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/collections/{id}/evaluations [get]
func (c *CollectionController) Scores(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, limit := util.ParsePagination(ctx)
	result, err := c.CollectionService.Scores(ctx.Request.Context(), user, ctx.Param("id"), page, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 评阅进度
// @Tags 评阅
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {object} util.Response{data=service.ProgressView}
// @Router /api/collections/{id}/progress [get]
func (c *CollectionController) Progress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	progress, err := c.CollectionService.Progress(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

// @Summary 集合下的答卷文件夹
// @Tags 答卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {object} util.Response{data=[]model.AnswerFolder}
// @Router /api/collections/{id}/answer-folders [get]
func (c *CollectionController) ListAnswerFolders(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	folders, err := c.CollectionService.ListAnswerFolders(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, folders)
}

// @Summary 文件夹中的答卷
// @Tags 答卷
// @Produce json
// @Security BearerAuth
// @Param id path string true "文件夹ID"
// @Success 200 {object} util.Response{data=[]model.AnswerScript}
// @Router /api/answer-folders/{id}/answer-scripts [get]
func (c *CollectionController) ListFolderScripts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	scripts, err := c.CollectionService.ListFolderScripts(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, scripts)
}

// @Summary 下载答卷 PDF
// @Tags 答卷
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "答卷ID"
// @Success 200 {file} file
// @Router /api/answer-scripts/{id}/file [get]
func (c *CollectionController) DownloadAnswerScript(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	file, err := c.CollectionService.OpenAnswerScript(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	sendPDF(ctx, file)
}

// @Summary 下载集合最新试卷 PDF
// @Tags 试卷
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Success 200 {file} file
// @Router /api/collections/{id}/question-papers/latest/file [get]
func (c *CollectionController) DownloadLatestQuestionPaper(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	file, err := c.CollectionService.OpenLatestQuestionPaper(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	sendPDF(ctx, file)
}

func sendPDF(ctx *gin.Context, file *service.DocumentFile) {
	defer file.Reader.Close()
	ctx.DataFromReader(http.StatusOK, -1, util.MimePDF, file.Reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Name),
	})
}
