package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/middleware"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/service"
	"exam_eval_backend/internal/testutil"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/taskqueue"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-secret"

type stubInference struct{}

func (stubInference) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	if prompt == service.ExtractionPrompt {
		return `{"exam_details": {"name": "Quiz"}, "sections": [{"section_name": "A", "questions": [{"question_number": 1, "max_marks": 5}]}]}`, nil
	}
	return `[]`, nil
}

type onePageRenderer struct{}

func (onePageRenderer) Rasterize(ctx context.Context, srcPath, destDir string) (int, error) {
	return 1, testutil.WritePNG(filepath.Join(destDir, service.PageImageName(1)))
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type server struct {
	router     *gin.Engine
	queue      *taskqueue.Queue
	evaluation *service.EvaluationService
}

func (s *server) swapQueue(q *taskqueue.Queue) {
	s.queue = q
	s.evaluation.Queue = q
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	root := t.TempDir()
	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}

	collectionRepo := repository.NewCollectionRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)
	storage := service.NewLocalStorageService(&config.StorageConfig{Type: "local", LocalPath: root})
	monitor := service.NewProgressMonitor(repository.NewMonitorRepository(db))
	queue := taskqueue.New(1, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue.Shutdown(ctx)
	})

	evaluation := service.NewEvaluationService(
		collectionRepo,
		docRepo,
		service.NewSchemaExtractor(docRepo, storage, stubInference{}),
		service.NewPageEvaluator(evalRepo, storage, stubInference{}),
		monitor,
		service.NewMemoryLease(),
		queue,
		0,
	)
	collections := service.NewCollectionService(collectionRepo, docRepo, evalRepo, monitor, storage)
	uploads := service.NewUploadService(collectionRepo, docRepo, storage, onePageRenderer{}, evaluation, root)

	cc := NewCollectionController(collections)
	uc := NewUploadController(uploads, collections)
	ec := NewEvaluationController(evaluation, collections)

	router := gin.New()
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Teacher))
	api.POST("/collections", cc.Create)
	api.GET("/collections/:id", cc.Get)
	api.POST("/collections/:id/question-papers", uc.UploadQuestionPaper)
	api.POST("/collections/:id/evaluate", ec.StartEvaluation)
	api.GET("/collections/:id/progress", cc.Progress)
	api.GET("/collections/:id/question-papers/latest/file", cc.DownloadLatestQuestionPaper)
	api.GET("/collections/:id/answer-folders", cc.ListAnswerFolders)

	return &server{router: router, queue: queue, evaluation: evaluation}
}

func (s *server) uploadQuestionPaper(t *testing.T, collectionID, auth string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "qp.pdf")
	require.NoError(t, err)
	_, err = part.Write(testutil.MinimalPDF(1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/collections/"+collectionID+"/question-papers", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := s.do(t, req, auth)
	require.Equal(t, http.StatusCreated, w.Code)
}

func token(t *testing.T, userID uint, role model.UserRole) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, "t@example.com", testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *server) do(t *testing.T, req *http.Request, auth string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *server) createCollection(t *testing.T, auth string) model.Collection {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/collections", bytes.NewBufferString(`{"name": "Physics"}`))
	req.Header.Set("Content-Type", "application/json")
	w, env := s.do(t, req, auth)
	require.Equal(t, http.StatusCreated, w.Code)

	var c model.Collection
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c
}

func TestRoutes_RequireAuthAndOwnership(t *testing.T) {
	s := newServer(t)
	teacher := token(t, 1, model.Teacher)

	w, _ := s.do(t, httptest.NewRequest(http.MethodPost, "/api/collections", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/x", nil), "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/x", nil), token(t, 3, model.UserRole("student")))
	assert.Equal(t, http.StatusForbidden, w.Code)

	c := s.createCollection(t, teacher)

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/"+c.ID, nil), token(t, 2, model.Teacher))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/"+c.ID, nil), token(t, 99, model.Admin))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/"+model.GenerateUUID(), nil), teacher)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_EvaluateLifecycle(t *testing.T) {
	s := newServer(t)
	teacher := token(t, 1, model.Teacher)
	c := s.createCollection(t, teacher)

	evaluate := func(query string) (*httptest.ResponseRecorder, envelope) {
		return s.do(t, httptest.NewRequest(http.MethodPost, "/api/collections/"+c.ID+"/evaluate"+query, nil), teacher)
	}

	w, _ := evaluate("?force=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := evaluate("")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, env.Message)

	s.uploadQuestionPaper(t, c.ID, teacher)

	// 等待后台提取完成
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.queue.Shutdown(ctx))
	fresh := taskqueue.New(1, 8)
	t.Cleanup(func() { fresh.Shutdown(context.Background()) })
	s.swapQueue(fresh)

	w, env = evaluate("?force=true")
	require.Equal(t, http.StatusAccepted, w.Code, env.Message)
	var monitor model.EvaluationMonitor
	require.NoError(t, json.Unmarshal(env.Data, &monitor))
	assert.True(t, monitor.Force)
	assert.Equal(t, 0, monitor.TotalDocs)

	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/collections/"+c.ID+"/progress", nil)
		req.Header.Set("Authorization", teacher)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		var env envelope
		var view service.ProgressView
		if json.Unmarshal(w.Body.Bytes(), &env) != nil || json.Unmarshal(env.Data, &view) != nil {
			return false
		}
		return view.Status == model.MonitorCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRoutes_DownloadLatestQuestionPaper(t *testing.T) {
	s := newServer(t)
	teacher := token(t, 1, model.Teacher)
	c := s.createCollection(t, teacher)

	download := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/collections/"+c.ID+"/question-papers/latest/file", nil)
		req.Header.Set("Authorization", auth)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNotFound, download(teacher).Code)

	s.uploadQuestionPaper(t, c.ID, teacher)

	w := download(teacher)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, util.MimePDF, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="qp.pdf"`)
	assert.Equal(t, testutil.MinimalPDF(1), w.Body.Bytes())

	assert.Equal(t, http.StatusForbidden, download(token(t, 2, model.Teacher)).Code)

	w, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/"+c.ID+"/answer-folders", nil), teacher)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}
