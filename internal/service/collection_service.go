package service

import (
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"
	"io"
	"path"
	"strings"

	"gorm.io/gorm"
)

type CollectionRequest struct {
	Name       string `json:"name" binding:"required,max=200"`
	Branch     string `json:"branch" binding:"max=100"`
	Department string `json:"department" binding:"max=100"`
	School     string `json:"school" binding:"max=200"`
}

// ProgressView 进度查询返回
type ProgressView struct {
	CollectionID  string               `json:"collectionId"`
	IsEvaluated   bool                 `json:"isEvaluated"`
	TotalDocs     int                  `json:"totalDocs"`
	EvaluatedDocs int                  `json:"evaluatedDocs"`
	Status        model.MonitorStatus  `json:"status"`
	Monitor       *model.EvaluationMonitor `json:"monitor,omitempty"`
}

// DocumentFile 下载用的原始 PDF，调用方负责关闭 Reader
type DocumentFile struct {
	Name   string
	Reader io.ReadCloser
}

// CollectionService 集合管理与只读查询，所有方法先做归属校验
type CollectionService struct {
	CollectionRepo *repository.CollectionRepository
	DocRepo        *repository.DocumentRepository
	EvalRepo       *repository.EvaluationRepository
	Monitor        *ProgressMonitor
	Storage        *StorageService
}

func NewCollectionService(
	collectionRepo *repository.CollectionRepository,
	docRepo *repository.DocumentRepository,
	evalRepo *repository.EvaluationRepository,
	monitor *ProgressMonitor,
	storage *StorageService,
) *CollectionService {
	return &CollectionService{
		CollectionRepo: collectionRepo,
		DocRepo:        docRepo,
		EvalRepo:       evalRepo,
		Monitor:        monitor,
		Storage:        storage,
	}
}

// Authorize 集合存在且当前用户可访问
func (s *CollectionService) Authorize(ctx context.Context, user *util.Claims, collectionID string) (*model.Collection, error) {
	collection, err := s.CollectionRepo.FindByID(ctx, collectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NewPipelineError(util.ErrCollectionNotFound, collectionID, nil)
		}
		return nil, err
	}
	if !user.CanAccess(collection.OwnerID) {
		return nil, util.ErrPermissionDenied
	}
	return collection, nil
}

func (s *CollectionService) Create(ctx context.Context, user *util.Claims, req CollectionRequest) (*model.Collection, error) {
	collection := &model.Collection{
		Name:       req.Name,
		Branch:     req.Branch,
		Department: req.Department,
		School:     req.School,
		OwnerID:    user.UserID,
	}
	if err := s.CollectionRepo.Create(ctx, collection); err != nil {
		return nil, err
	}
	return collection, nil
}

func (s *CollectionService) List(ctx context.Context, user *util.Claims, page, limit int) (*util.PageResponse, error) {
	ownerID := user.UserID
	if user.Role == model.Admin {
		ownerID = 0
	}
	collections, total, err := s.CollectionRepo.List(ctx, ownerID, page, limit)
	if err != nil {
		return nil, err
	}
	return &util.PageResponse{List: collections, Total: total, Page: page, Limit: limit}, nil
}

func (s *CollectionService) Update(ctx context.Context, user *util.Claims, collectionID string, req CollectionRequest) (*model.Collection, error) {
	collection, err := s.Authorize(ctx, user, collectionID)
	if err != nil {
		return nil, err
	}
	collection.Name = req.Name
	collection.Branch = req.Branch
	collection.Department = req.Department
	collection.School = req.School
	if err := s.CollectionRepo.Update(ctx, collection); err != nil {
		return nil, err
	}
	return collection, nil
}

func (s *CollectionService) Delete(ctx context.Context, user *util.Claims, collectionID string) error {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return err
	}
	return s.CollectionRepo.Delete(ctx, collectionID)
}

func (s *CollectionService) ListQuestionPapers(ctx context.Context, user *util.Claims, collectionID string) ([]*model.QuestionPaper, error) {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return nil, err
	}
	return s.DocRepo.ListQuestionPapers(ctx, collectionID)
}

func (s *CollectionService) GetQuestionPaper(ctx context.Context, user *util.Claims, questionPaperID string) (*model.QuestionPaper, error) {
	qp, err := s.DocRepo.FindQuestionPaperByID(ctx, questionPaperID)
	if err != nil {
		return nil, notFound(err, "question paper "+questionPaperID)
	}
	if _, err := s.Authorize(ctx, user, qp.CollectionID); err != nil {
		return nil, err
	}
	return qp, nil
}

// AuthorizeAnswerFolder 文件夹所属集合的归属校验
func (s *CollectionService) AuthorizeAnswerFolder(ctx context.Context, user *util.Claims, folderID string) (*model.AnswerFolder, error) {
	folder, err := s.DocRepo.FindAnswerFolderByID(ctx, folderID)
	if err != nil {
		return nil, notFound(err, "answer folder "+folderID)
	}
	if _, err := s.Authorize(ctx, user, folder.CollectionID); err != nil {
		return nil, err
	}
	return folder, nil
}

func (s *CollectionService) ListAnswerFolders(ctx context.Context, user *util.Claims, collectionID string) ([]*model.AnswerFolder, error) {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return nil, err
	}
	return s.DocRepo.ListAnswerFolders(ctx, collectionID)
}

func (s *CollectionService) ListFolderScripts(ctx context.Context, user *util.Claims, folderID string) ([]*model.AnswerScript, error) {
	if _, err := s.AuthorizeAnswerFolder(ctx, user, folderID); err != nil {
		return nil, err
	}
	return s.DocRepo.ListAnswerScriptsByFolder(ctx, folderID)
}

// OpenLatestQuestionPaper 集合最新试卷的 PDF，与评阅使用同一份
func (s *CollectionService) OpenLatestQuestionPaper(ctx context.Context, user *util.Claims, collectionID string) (*DocumentFile, error) {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return nil, err
	}
	qp, err := s.DocRepo.LatestQuestionPaper(ctx, collectionID)
	if err != nil {
		return nil, notFound(err, "question paper of collection "+collectionID)
	}
	return s.openDocument(ctx, qp.Name, qp.FilePath)
}

func (s *CollectionService) OpenAnswerScript(ctx context.Context, user *util.Claims, scriptID string) (*DocumentFile, error) {
	script, err := s.authorizeScript(ctx, user, scriptID)
	if err != nil {
		return nil, err
	}
	return s.openDocument(ctx, script.Name, script.FilePath)
}

func (s *CollectionService) openDocument(ctx context.Context, name, key string) (*DocumentFile, error) {
	exists, err := s.Storage.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, util.NewPipelineError(util.ErrDocumentNotFound, "file "+key, nil)
	}
	reader, err := s.Storage.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(path.Ext(name), util.ExtPDF) {
		name += util.ExtPDF
	}
	return &DocumentFile{Name: name, Reader: reader}, nil
}

func (s *CollectionService) ListAnswerScripts(ctx context.Context, user *util.Claims, collectionID string, page, limit int) (*util.PageResponse, error) {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return nil, err
	}
	scripts, total, err := s.DocRepo.ListAnswerScripts(ctx, collectionID, page, limit)
	if err != nil {
		return nil, err
	}
	return &util.PageResponse{List: scripts, Total: total, Page: page, Limit: limit}, nil
}

func (s *CollectionService) authorizeScript(ctx context.Context, user *util.Claims, scriptID string) (*model.AnswerScript, error) {
	script, err := s.DocRepo.FindAnswerScriptByID(ctx, scriptID)
	if err != nil {
		return nil, notFound(err, "answer script "+scriptID)
	}
	if _, err := s.Authorize(ctx, user, script.CollectionID); err != nil {
		return nil, err
	}
	return script, nil
}

func (s *CollectionService) ListPages(ctx context.Context, user *util.Claims, scriptID string) ([]*model.Page, error) {
	if _, err := s.authorizeScript(ctx, user, scriptID); err != nil {
		return nil, err
	}
	return s.DocRepo.PagesByScript(ctx, scriptID)
}

func (s *CollectionService) ListScriptEvaluations(ctx context.Context, user *util.Claims, scriptID string) ([]*model.Evaluation, error) {
	if _, err := s.authorizeScript(ctx, user, scriptID); err != nil {
		return nil, err
	}
	return s.EvalRepo.ListByScript(ctx, scriptID)
}

func (s *CollectionService) Scores(ctx context.Context, user *util.Claims, collectionID string, page, limit int) (*util.PageResponse, error) {
	if _, err := s.Authorize(ctx, user, collectionID); err != nil {
		return nil, err
	}
	scores, total, err := s.EvalRepo.ScoresByCollection(ctx, collectionID, page, limit)
	if err != nil {
		return nil, err
	}
	return &util.PageResponse{List: scores, Total: total, Page: page, Limit: limit}, nil
}

// Progress 从未触发过评阅的集合返回零值进度
func (s *CollectionService) Progress(ctx context.Context, user *util.Claims, collectionID string) (*ProgressView, error) {
	collection, err := s.Authorize(ctx, user, collectionID)
	if err != nil {
		return nil, err
	}
	view := &ProgressView{CollectionID: collection.ID, IsEvaluated: collection.IsEvaluated}

	monitor, err := s.Monitor.Get(ctx, collectionID)
	if errors.Is(err, util.ErrDocumentNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.TotalDocs = monitor.TotalDocs
	view.EvaluatedDocs = monitor.EvaluatedDocs
	view.Status = monitor.Status
	view.Monitor = monitor
	return view, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.NewPipelineError(util.ErrDocumentNotFound, what, nil)
	}
	return err
}
