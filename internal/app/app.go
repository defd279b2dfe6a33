package app

import (
	"context"
	"errors"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/controller"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/service"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/configwatcher"
	"exam_eval_backend/pkg/database"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/monitoring"
	"exam_eval_backend/pkg/security"
	"exam_eval_backend/pkg/taskqueue"
	"exam_eval_backend/pkg/tracing"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	queue           *taskqueue.Queue
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	collection *repository.CollectionRepository
	document   *repository.DocumentRepository
	evaluation *repository.EvaluationRepository
	monitor    *repository.MonitorRepository
}

type services struct {
	storage    *service.StorageService
	inference  *service.InferenceService
	extractor  *service.SchemaExtractor
	evaluator  *service.PageEvaluator
	monitor    *service.ProgressMonitor
	evaluation *service.EvaluationService
	upload     *service.UploadService
	collection *service.CollectionService
}

type controllers struct {
	collection *controller.CollectionController
	upload     *controller.UploadController
	evaluation *controller.EvaluationController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		collection: repository.NewCollectionRepository(db),
		document:   repository.NewDocumentRepository(db),
		evaluation: repository.NewEvaluationRepository(db),
		monitor:    repository.NewMonitorRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) (*services, error) {
	s := &services{}

	s.storage = service.NewStorageService(cfg)

	inference, err := service.NewInferenceService(context.Background(), cfg, s.storage)
	if err != nil {
		return nil, err
	}
	s.inference = inference

	var lease service.RunLease = service.NewMemoryLease()
	var renewInterval time.Duration
	if cfg.Pipeline.LeaseBackend == util.LeaseRedis {
		redisLease := service.NewRedisLease(a.Redis, cfg.Pipeline.LeaseTTL())
		lease = redisLease
		renewInterval = redisLease.RenewInterval()
	}

	s.extractor = service.NewSchemaExtractor(repos.document, s.storage, s.inference)
	s.evaluator = service.NewPageEvaluator(repos.evaluation, s.storage, s.inference)
	s.monitor = service.NewProgressMonitor(repos.monitor)
	s.evaluation = service.NewEvaluationService(
		repos.collection,
		repos.document,
		s.extractor,
		s.evaluator,
		s.monitor,
		lease,
		a.queue,
		cfg.Pipeline.StartupDelay(),
	)
	s.evaluation.LeaseRenewInterval = renewInterval
	s.upload = service.NewUploadService(
		repos.collection,
		repos.document,
		s.storage,
		service.NewRasterizer(cfg.Pipeline.RenderDPI),
		s.evaluation,
		cfg.Pipeline.WorkDir,
	)
	s.collection = service.NewCollectionService(repos.collection, repos.document, repos.evaluation, s.monitor, s.storage)

	return s, nil
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		collection: controller.NewCollectionController(s.collection),
		upload:     controller.NewUploadController(s.upload, s.collection),
		evaluation: controller.NewEvaluationController(s.evaluation, s.collection),
		health:     controller.NewHealthController(a.DB, a.Redis, a.queue),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// Migrate 仅执行数据库迁移
func Migrate(cfg *config.Config) error {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		return err
	}
	return database.Migrate(db)
}

func NewApp(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		return nil, err
	}

	// release 模式默认不自动迁移，需显式指定
	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
	}

	app := &App{
		Config: cfg,
		DB:     db,
		queue:  taskqueue.New(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize),
	}

	if cfg.Pipeline.LeaseBackend == util.LeaseRedis {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.Redis = rdb
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("exam-eval", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, err
		}
		app.tracer = tp
	}

	repos := app.initRepositories(db)
	services, err := app.initServices(repos, cfg)
	if err != nil {
		return nil, err
	}
	app.services = services
	controllers := app.initControllers(services)

	// 监控初始化
	monitoring.Init()

	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.RegisterConfigCallback(logger.SetLevel)
	app.RegisterConfigCallback(func(next *config.Config) {
		services.inference.SetRate(next.AI.RequestsPerMinute)
	})

	return app, nil
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if a.Config.FilePath != "" {
		go func() {
			err := configwatcher.WatchConfig(watchCtx, a.Config.FilePath, func(next *config.Config) {
				for _, cb := range a.configCallbacks {
					cb(next)
				}
			})
			if err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.shutdownPipeline()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	logger.Log.Info("Server exiting")
	logger.Log.Sync()
}

// shutdownPipeline 等待已入队的评阅任务结束，超时后放弃
func (a *App) shutdownPipeline() {
	timeout := time.Duration(a.Config.Pipeline.ShutdownTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.queue.Shutdown(ctx); err != nil {
		logger.Log.Warn("Background jobs still running at exit", zap.Int("queued", a.queue.Len()), zap.Error(err))
	}
	if err := a.services.inference.Close(); err != nil {
		logger.Log.Error("Failed to close inference client", zap.Error(err))
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}
