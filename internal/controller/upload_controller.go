package controller

import (
	"exam_eval_backend/internal/service"
	"exam_eval_backend/internal/util"
	"mime/multipart"

	"github.com/gin-gonic/gin"
)

type UploadController struct {
	UploadService     *service.UploadService
	CollectionService *service.CollectionService
}

func NewUploadController(uploadService *service.UploadService, collectionService *service.CollectionService) *UploadController {
	return &UploadController{UploadService: uploadService, CollectionService: collectionService}
}

type AnswerFolderRequest struct {
	Name string `json:"name" binding:"max=255"`
}

// @Summary 上传试卷
// @Description 仅接受 PDF，渲染页面后在后台提取题目结构
// @Tags 试卷
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param file formData file true "试卷 PDF"
// @Success 201 {object} util.Response{data=model.QuestionPaper}
// @Failure 422 {object} util.Response
// @Router /api/collections/{id}/question-papers [post]
func (c *UploadController) UploadQuestionPaper(ctx *gin.Context) {
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

	header, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		util.BadRequest(ctx, "cannot read uploaded file")
		return
	}
	defer file.Close()

	qp, err := c.UploadService.UploadQuestionPaper(ctx.Request.Context(), collection.ID, service.IncomingFile{
		Name:   header.Filename,
		Reader: file,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, qp)
}

// @Summary 创建答卷文件夹
// @Tags 答卷
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param folder body AnswerFolderRequest false "文件夹名称"
// @Success 201 {object} util.Response{data=model.AnswerFolder}
// @Router /api/collections/{id}/answer-folders [post]
func (c *UploadController) CreateAnswerFolder(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req AnswerFolderRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	collection, err := c.CollectionService.Authorize(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	folder, err := c.UploadService.CreateAnswerFolder(ctx.Request.Context(), collection.ID, req.Name)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, folder)
}

// @Summary 上传答卷到已有文件夹
// @Description 单个文件失败不影响其他文件，失败列表随结果返回
// @Tags 答卷
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "文件夹ID"
// @Param files formData file true "答卷 PDF，可多选"
// @Success 201 {object} util.Response{data=service.AnswerUploadResult}
// @Router /api/answer-folders/{id}/answer-scripts [post]
func (c *UploadController) UploadToFolder(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	folder, err := c.CollectionService.AuthorizeAnswerFolder(ctx.Request.Context(), user, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	files, closeAll, ok := openFiles(ctx)
	if !ok {
		return
	}
	defer closeAll()

	result, err := c.UploadService.UploadAnswerScripts(ctx.Request.Context(), folder.ID, files)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, result)
}

// @Summary 上传答卷到集合
// @Description 为本批次新建一个答卷文件夹
// @Tags 答卷
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "集合ID"
// @Param files formData file true "答卷 PDF，可多选"
// @Success 201 {object} util.Response{data=service.AnswerUploadResult}
// @Router /api/collections/{id}/answer-scripts [post]
func (c *UploadController) UploadToCollection(ctx *gin.Context) {
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

	files, closeAll, ok := openFiles(ctx)
	if !ok {
		return
	}
	defer closeAll()

	result, err := c.UploadService.UploadAnswerScriptsToCollection(ctx.Request.Context(), collection.ID, files)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, result)
}

// openFiles 读取表单中的 files 字段，兼容单文件字段 file
func openFiles(ctx *gin.Context) ([]service.IncomingFile, func(), bool) {
	form, err := ctx.MultipartForm()
	if err != nil {
		util.BadRequest(ctx, "multipart form is required")
		return nil, nil, false
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		util.BadRequest(ctx, "no files uploaded")
		return nil, nil, false
	}

	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]service.IncomingFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeAll()
			util.BadRequest(ctx, "cannot read uploaded file "+h.Filename)
			return nil, nil, false
		}
		opened = append(opened, f)
		files = append(files, service.IncomingFile{Name: h.Filename, Reader: f})
	}
	return files, closeAll, true
}
