package service

import (
	"context"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/repository"
	"exam_eval_backend/internal/testutil"
	"exam_eval_backend/pkg/taskqueue"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const pageResultJSON = `[{"question_no": "1.1", "obtained_marks": 2, "max_marks": 5, "feedback": "partially correct"}]`

// fakeInference 按调用内容返回预设结果，并记录每次调用
type fakeInference struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(imageKeys []string, prompt string) (string, error)
}

func (f *fakeInference) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), imageKeys...))
	respond := f.respond
	f.mu.Unlock()
	return respond(imageKeys, prompt)
}

func (f *fakeInference) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInference) LastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeInference) SetResponder(respond func(imageKeys []string, prompt string) (string, error)) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

// defaultResponder 试卷返回 sampleSchema，每页答卷返回一条结果
func defaultResponder(imageKeys []string, prompt string) (string, error) {
	if prompt == ExtractionPrompt {
		return sampleSchema, nil
	}
	return pageResultJSON, nil
}

// fakeRenderer 不解析 PDF，按固定页数写出图片
type fakeRenderer struct {
	pages int
	err   error
}

func (r *fakeRenderer) Rasterize(ctx context.Context, srcPath, destDir string) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for i := 1; i <= r.pages; i++ {
		if err := testutil.WritePNG(filepath.Join(destDir, PageImageName(i))); err != nil {
			return 0, err
		}
	}
	return r.pages, nil
}

type pipeline struct {
	root string

	collectionRepo *repository.CollectionRepository
	docRepo        *repository.DocumentRepository
	evalRepo       *repository.EvaluationRepository
	monitorRepo    *repository.MonitorRepository

	storage     *StorageService
	inference   *fakeInference
	renderer    *fakeRenderer
	queue       *taskqueue.Queue
	lease       *MemoryLease
	extractor   *SchemaExtractor
	evaluator   *PageEvaluator
	monitor     *ProgressMonitor
	evaluation  *EvaluationService
	uploads     *UploadService
	collections *CollectionService
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db := testutil.NewTestDB(t)
	root := t.TempDir()

	p := &pipeline{
		root:           root,
		collectionRepo: repository.NewCollectionRepository(db),
		docRepo:        repository.NewDocumentRepository(db),
		evalRepo:       repository.NewEvaluationRepository(db),
		monitorRepo:    repository.NewMonitorRepository(db),
		storage:        NewLocalStorageService(&config.StorageConfig{Type: "local", LocalPath: root}),
		inference:      &fakeInference{respond: defaultResponder},
		renderer:       &fakeRenderer{pages: 3},
		queue:          taskqueue.New(1, 8),
		lease:          NewMemoryLease(),
	}
	p.extractor = NewSchemaExtractor(p.docRepo, p.storage, p.inference)
	p.evaluator = NewPageEvaluator(p.evalRepo, p.storage, p.inference)
	p.monitor = NewProgressMonitor(p.monitorRepo)
	p.evaluation = NewEvaluationService(p.collectionRepo, p.docRepo, p.extractor, p.evaluator, p.monitor, p.lease, p.queue, 0)
	p.uploads = NewUploadService(p.collectionRepo, p.docRepo, p.storage, p.renderer, p.evaluation, root)
	p.collections = NewCollectionService(p.collectionRepo, p.docRepo, p.evalRepo, p.monitor, p.storage)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p.queue.Shutdown(ctx)
	})
	return p
}

// drain 等待已入队任务全部结束，然后换上新队列
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.queue.Shutdown(ctx))

	p.queue = taskqueue.New(1, 8)
	p.evaluation.Queue = p.queue
}

func (p *pipeline) seedCollection(t *testing.T, ownerID uint) *model.Collection {
	t.Helper()
	c := &model.Collection{Name: "Physics 101", Branch: "CSE", Department: "Science", School: "Engineering", OwnerID: ownerID}
	require.NoError(t, p.collectionRepo.Create(context.Background(), c))
	return c
}

// seedQuestionPaper 写入页面图片，withSchema 时同时落盘试卷结构
func (p *pipeline) seedQuestionPaper(t *testing.T, collectionID string, pages int, withSchema bool) *model.QuestionPaper {
	t.Helper()
	ctx := context.Background()

	id := model.GenerateUUID()
	folder := questionPaperFolder(collectionID, id)
	for _, key := range PageImageKeys(folder, pages) {
		require.NoError(t, testutil.WritePNG(filepath.Join(p.root, filepath.FromSlash(key))))
	}
	qp := &model.QuestionPaper{
		UUIDBase:     model.UUIDBase{ID: id},
		CollectionID: collectionID,
		Name:         "qp.pdf",
		FilePath:     path.Join(folder, "qp.pdf"),
		FolderPath:   folder,
		PageCount:    pages,
	}
	require.NoError(t, p.docRepo.CreateQuestionPaper(ctx, qp))

	if withSchema {
		schema, err := ParseExamSchema(sampleSchema)
		require.NoError(t, err)
		key := SchemaKey(qp)
		require.NoError(t, p.storage.PutJSON(ctx, key, schema))
		require.NoError(t, p.docRepo.SetSchemaPath(ctx, qp.ID, key))
		qp.SchemaPath = &key
	}
	return qp
}

func (p *pipeline) seedScript(t *testing.T, collectionID, name string, pages int) *model.AnswerScript {
	t.Helper()
	ctx := context.Background()

	folderID := model.GenerateUUID()
	folder := &model.AnswerFolder{
		UUIDBase:     model.UUIDBase{ID: folderID},
		CollectionID: collectionID,
		Name:         "batch",
		FolderPath:   answerFolderKey(collectionID, folderID),
	}
	require.NoError(t, p.docRepo.CreateAnswerFolder(ctx, folder))

	scriptDir := path.Join(folder.FolderPath, name)
	script := &model.AnswerScript{
		AnswerFolderID: folder.ID,
		CollectionID:   collectionID,
		Name:           name + ".pdf",
		FilePath:       path.Join(scriptDir, name+".pdf"),
		FolderPath:     scriptDir,
		PageCount:      pages,
	}
	pageRows := make([]model.Page, pages)
	for i, key := range PageImageKeys(scriptDir, pages) {
		pageRows[i] = model.Page{PageNo: i + 1, ImagePath: key}
	}
	require.NoError(t, p.docRepo.CreateAnswerScript(ctx, script, pageRows))
	return script
}

func (p *pipeline) evaluationsFor(t *testing.T, scriptID string) []*model.Evaluation {
	t.Helper()
	records, err := p.evalRepo.ListByScript(context.Background(), scriptID)
	require.NoError(t, err)
	return records
}

func (p *pipeline) historyFor(t *testing.T, scriptID string) []*model.Evaluation {
	t.Helper()
	records, err := p.evalRepo.ListHistoryByScript(context.Background(), scriptID)
	require.NoError(t, err)
	return records
}

func (p *pipeline) pagesFor(t *testing.T, scriptID string) []*model.Page {
	t.Helper()
	pages, err := p.docRepo.PagesByScript(context.Background(), scriptID)
	require.NoError(t, err)
	return pages
}

func (p *pipeline) monitorFor(t *testing.T, collectionID string) *model.EvaluationMonitor {
	t.Helper()
	m, err := p.monitor.Get(context.Background(), collectionID)
	require.NoError(t, err)
	return m
}

func failOn(fragment string, err error) func([]string, string) (string, error) {
	return func(imageKeys []string, prompt string) (string, error) {
		for _, k := range imageKeys {
			if strings.Contains(k, fragment) {
				return "", err
			}
		}
		return defaultResponder(imageKeys, prompt)
	}
}

func pdfFile(name string) IncomingFile {
	return IncomingFile{Name: name, Reader: strings.NewReader(string(testutil.MinimalPDF(1)))}
}

func errUnavailable(msg string) error {
	return fmt.Errorf("upstream: %s", msg)
}
