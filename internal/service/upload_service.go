package service

import (
	"bytes"
	"context"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IncomingFile 上传的单个文件
type IncomingFile struct {
	Name   string
	Reader io.Reader
}

type FailedUpload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type AnswerUploadResult struct {
	Folder  *model.AnswerFolder   `json:"folder"`
	Scripts []*model.AnswerScript `json:"scripts"`
	Failed  []FailedUpload        `json:"failed,omitempty"`
}

type UploadService struct {
	CollectionRepo *repository.CollectionRepository
	DocRepo        *repository.DocumentRepository
	Storage        *StorageService
	Renderer       PageRenderer
	Evaluation     *EvaluationService
	WorkDir        string
}

func NewUploadService(
	collectionRepo *repository.CollectionRepository,
	docRepo *repository.DocumentRepository,
	storage *StorageService,
	renderer PageRenderer,
	evaluation *EvaluationService,
	workDir string,
) *UploadService {
	return &UploadService{
		CollectionRepo: collectionRepo,
		DocRepo:        docRepo,
		Storage:        storage,
		Renderer:       renderer,
		Evaluation:     evaluation,
		WorkDir:        workDir,
	}
}

func questionPaperFolder(collectionID, qpID string) string {
	return path.Join("collections", collectionID, "question_papers", qpID)
}

func answerFolderKey(collectionID, folderID string) string {
	return path.Join("collections", collectionID, "answer_folders", folderID)
}

// UploadQuestionPaper 渲染页面、创建记录并在后台提取试卷结构
func (s *UploadService) UploadQuestionPaper(ctx context.Context, collectionID string, file IncomingFile) (*model.QuestionPaper, error) {
	if err := s.ensureCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	qpID := model.GenerateUUID()
	folder := questionPaperFolder(collectionID, qpID)

	pdfKey, pageCount, err := s.ingest(ctx, folder, file)
	if err != nil {
		return nil, err
	}

	qp := &model.QuestionPaper{
		UUIDBase:     model.UUIDBase{ID: qpID},
		CollectionID: collectionID,
		Name:         filepath.Base(file.Name),
		FilePath:     pdfKey,
		FolderPath:   folder,
		PageCount:    pageCount,
	}
	if err := s.DocRepo.CreateQuestionPaper(ctx, qp); err != nil {
		return nil, err
	}

	if err := s.Evaluation.StartExtraction(ctx, qp.ID); err != nil {
		// 记录已创建，可通过重新提取接口补救
		logger.Log.Warn("Failed to schedule extraction", zap.String("question_paper_id", qp.ID), zap.Error(err))
	}
	return qp, nil
}

func (s *UploadService) CreateAnswerFolder(ctx context.Context, collectionID, name string) (*model.AnswerFolder, error) {
	if err := s.ensureCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	id := model.GenerateUUID()
	folder := &model.AnswerFolder{
		UUIDBase:     model.UUIDBase{ID: id},
		CollectionID: collectionID,
		Name:         name,
		FolderPath:   answerFolderKey(collectionID, id),
	}
	if folder.Name == "" {
		folder.Name = "ans_pdf_folder_" + id[:8]
	}
	if err := s.DocRepo.CreateAnswerFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// UploadAnswerScripts 上传到已有文件夹，单个文件失败不影响其他文件
func (s *UploadService) UploadAnswerScripts(ctx context.Context, folderID string, files []IncomingFile) (*AnswerUploadResult, error) {
	folder, err := s.DocRepo.FindAnswerFolderByID(ctx, folderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NewPipelineError(util.ErrDocumentNotFound, "answer folder "+folderID, nil)
		}
		return nil, err
	}
	return s.uploadScripts(ctx, folder, files)
}

// UploadAnswerScriptsToCollection 为本批次新建文件夹后上传
func (s *UploadService) UploadAnswerScriptsToCollection(ctx context.Context, collectionID string, files []IncomingFile) (*AnswerUploadResult, error) {
	folder, err := s.CreateAnswerFolder(ctx, collectionID, "")
	if err != nil {
		return nil, err
	}
	return s.uploadScripts(ctx, folder, files)
}

func (s *UploadService) uploadScripts(ctx context.Context, folder *model.AnswerFolder, files []IncomingFile) (*AnswerUploadResult, error) {
	if len(files) == 0 {
		return nil, util.NewPipelineError(util.ErrDocumentFormat, "no files uploaded", nil)
	}

	result := &AnswerUploadResult{Folder: folder}
	var firstErr error
	for _, f := range files {
		script, err := s.uploadScript(ctx, folder, f)
		if err != nil {
			logger.Log.Warn("Answer script upload failed", zap.String("file", f.Name), zap.Error(err))
			result.Failed = append(result.Failed, FailedUpload{Name: f.Name, Reason: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Scripts = append(result.Scripts, script)
	}

	if len(result.Scripts) == 0 {
		return nil, firstErr
	}
	return result, nil
}

func (s *UploadService) uploadScript(ctx context.Context, folder *model.AnswerFolder, file IncomingFile) (*model.AnswerScript, error) {
	scriptID := model.GenerateUUID()
	scriptDir := path.Join(folder.FolderPath, util.FileStem(file.Name)+"_"+scriptID[:8])

	pdfKey, pageCount, err := s.ingest(ctx, scriptDir, file)
	if err != nil {
		return nil, err
	}

	script := &model.AnswerScript{
		UUIDBase:       model.UUIDBase{ID: scriptID},
		AnswerFolderID: folder.ID,
		CollectionID:   folder.CollectionID,
		Name:           filepath.Base(file.Name),
		FilePath:       pdfKey,
		FolderPath:     scriptDir,
		PageCount:      pageCount,
	}
	pages := make([]model.Page, pageCount)
	for i, key := range PageImageKeys(scriptDir, pageCount) {
		pages[i] = model.Page{PageNo: i + 1, ImagePath: key}
	}
	if err := s.DocRepo.CreateAnswerScript(ctx, script, pages); err != nil {
		return nil, err
	}
	return script, nil
}

// ingest 校验文件、在工作目录渲染页面并同步到制品存储，返回 PDF 的存储键与页数
func (s *UploadService) ingest(ctx context.Context, folderKey string, file IncomingFile) (string, int, error) {
	if !util.HasAllowedExtension(file.Name, util.AllowedDocumentExtensions) {
		return "", 0, util.NewPipelineError(util.ErrDocumentFormat, "only PDF files are accepted: "+file.Name, nil)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file.Reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", 0, err
	}
	head = head[:n]
	if _, err := util.ValidateMimeType(bytes.NewReader(head), []string{util.MimePDF}); err != nil {
		return "", 0, util.NewPipelineError(util.ErrDocumentFormat, file.Name, err)
	}

	workDir := filepath.Join(s.WorkDir, filepath.FromSlash(folderKey))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", 0, err
	}
	cleanup := func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Log.Warn("Failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}

	pdfName := util.FileStem(file.Name) + ".pdf"
	localPDF := filepath.Join(workDir, pdfName)
	if err := writeFile(localPDF, io.MultiReader(bytes.NewReader(head), file.Reader)); err != nil {
		cleanup()
		return "", 0, err
	}

	pageCount, err := s.Renderer.Rasterize(ctx, localPDF, workDir)
	if err != nil {
		cleanup()
		return "", 0, err
	}

	pdfKey := path.Join(folderKey, pdfName)
	if _, err := s.Storage.UploadFile(ctx, pdfKey, localPDF, util.MimePDF); err != nil {
		cleanup()
		return "", 0, fmt.Errorf("store %s: %w", pdfKey, err)
	}
	for i := 1; i <= pageCount; i++ {
		name := PageImageName(i)
		if _, err := s.Storage.UploadFile(ctx, path.Join(folderKey, name), filepath.Join(workDir, name), util.MimePNG); err != nil {
			cleanup()
			return "", 0, fmt.Errorf("store page %d: %w", i, err)
		}
	}

	if !s.Storage.IsLocal() {
		cleanup()
	}

	logger.Log.Info("Document rasterized",
		zap.String("file", file.Name),
		zap.String("folder", folderKey),
		zap.Int("pages", pageCount),
	)
	return pdfKey, pageCount, nil
}

func (s *UploadService) ensureCollection(ctx context.Context, collectionID string) error {
	if _, err := s.CollectionRepo.FindByID(ctx, collectionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.NewPipelineError(util.ErrCollectionNotFound, collectionID, nil)
		}
		return err
	}
	return nil
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
