package app

import (
	"exam_eval_backend/docs"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/middleware"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/pkg/monitoring"
	"exam_eval_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由，教师与管理员可用
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Teacher))
	{
		registerCollectionRoutes(api, c)
		registerDocumentRoutes(api, c, cfg)
		registerEvaluationRoutes(api, c)
	}
}

func registerCollectionRoutes(api *gin.RouterGroup, c *controllers) {
	collections := api.Group("/collections")
	{
		collections.POST("", c.collection.Create)
		collections.GET("", c.collection.List)
		collections.GET("/:id", c.collection.Get)
		collections.PUT("/:id", c.collection.Update)
		collections.DELETE("/:id", c.collection.Delete)
	}
}

func registerDocumentRoutes(api *gin.RouterGroup, c *controllers, cfg *config.Config) {
	maxUpload := security.MaxBodySize(int64(cfg.Pipeline.MaxUploadSizeMB) << 20)

	api.POST("/collections/:id/question-papers", maxUpload, c.upload.UploadQuestionPaper)
	api.GET("/collections/:id/question-papers", c.collection.ListQuestionPapers)
	api.GET("/collections/:id/question-papers/latest/file", c.collection.DownloadLatestQuestionPaper)
	api.GET("/question-papers/:id", c.collection.GetQuestionPaper)
	api.POST("/question-papers/:id/extract", c.evaluation.ExtractQuestionPaper)

	api.POST("/collections/:id/answer-folders", c.upload.CreateAnswerFolder)
	api.GET("/collections/:id/answer-folders", c.collection.ListAnswerFolders)
	api.GET("/answer-folders/:id/answer-scripts", c.collection.ListFolderScripts)
	api.POST("/answer-folders/:id/answer-scripts", maxUpload, c.upload.UploadToFolder)
	api.POST("/collections/:id/answer-scripts", maxUpload, c.upload.UploadToCollection)
	api.GET("/collections/:id/answer-scripts", c.collection.ListAnswerScripts)
	api.GET("/answer-scripts/:id/pages", c.collection.ListPages)
	api.GET("/answer-scripts/:id/file", c.collection.DownloadAnswerScript)
}

func registerEvaluationRoutes(api *gin.RouterGroup, c *controllers) {
	api.POST("/collections/:id/evaluate", c.evaluation.StartEvaluation)
	api.GET("/collections/:id/progress", c.collection.Progress)
	api.GET("/collections/:id/evaluations", c.collection.Scores)
	api.GET("/answer-scripts/:id/evaluations", c.collection.ListScriptEvaluations)
}
