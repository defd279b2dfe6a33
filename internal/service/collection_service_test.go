package service

import (
	"bytes"
	"context"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/testutil"
	"exam_eval_backend/internal/util"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = &util.Claims{UserID: 1, Role: model.Teacher}
	stranger = &util.Claims{UserID: 2, Role: model.Teacher}
	admin    = &util.Claims{UserID: 99, Role: model.Admin}
)

func TestCollectionService_CRUD(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	created, err := p.collections.Create(ctx, owner, CollectionRequest{Name: "Maths", Branch: "ECE"})
	require.NoError(t, err)
	assert.Equal(t, uint(1), created.OwnerID)
	assert.False(t, created.IsEvaluated)

	_, err = p.collections.Create(ctx, stranger, CollectionRequest{Name: "History"})
	require.NoError(t, err)

	mine, err := p.collections.List(ctx, owner, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine.Total)

	all, err := p.collections.List(ctx, admin, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)

	updated, err := p.collections.Update(ctx, owner, created.ID, CollectionRequest{Name: "Maths II", School: "Engineering"})
	require.NoError(t, err)
	assert.Equal(t, "Maths II", updated.Name)
	assert.Equal(t, "Engineering", updated.School)

	_, err = p.collections.Update(ctx, stranger, created.ID, CollectionRequest{Name: "hijacked"})
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	require.NoError(t, p.collections.Delete(ctx, admin, created.ID))
	_, err = p.collections.Authorize(ctx, owner, created.ID)
	assert.ErrorIs(t, err, util.ErrCollectionNotFound)
}

func TestCollectionService_ScopedReads(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	collection := p.seedCollection(t, owner.UserID)
	qp := p.seedQuestionPaper(t, collection.ID, 1, true)
	script := p.seedScript(t, collection.ID, "alice", 2)

	progress, err := p.collections.Progress(ctx, owner, collection.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.TotalDocs)
	assert.Nil(t, progress.Monitor, "never evaluated")

	_, err = p.evaluation.StartEvaluation(ctx, collection.ID, EvaluationOptions{})
	require.NoError(t, err)
	p.drain(t)

	progress, err = p.collections.Progress(ctx, owner, collection.ID)
	require.NoError(t, err)
	assert.True(t, progress.IsEvaluated)
	assert.Equal(t, 1, progress.TotalDocs)
	assert.Equal(t, 1, progress.EvaluatedDocs)
	assert.Equal(t, model.MonitorCompleted, progress.Status)

	papers, err := p.collections.ListQuestionPapers(ctx, owner, collection.ID)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, qp.ID, papers[0].ID)

	got, err := p.collections.GetQuestionPaper(ctx, admin, qp.ID)
	require.NoError(t, err)
	assert.True(t, got.HasSchema())

	scripts, err := p.collections.ListAnswerScripts(ctx, owner, collection.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scripts.Total)

	pages, err := p.collections.ListPages(ctx, owner, script.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	records, err := p.collections.ListScriptEvaluations(ctx, owner, script.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	scores, err := p.collections.Scores(ctx, owner, collection.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scores.Total)

	for name, call := range map[string]func() error{
		"progress":    func() error { _, err := p.collections.Progress(ctx, stranger, collection.ID); return err },
		"papers":      func() error { _, err := p.collections.ListQuestionPapers(ctx, stranger, collection.ID); return err },
		"paper":       func() error { _, err := p.collections.GetQuestionPaper(ctx, stranger, qp.ID); return err },
		"pages":       func() error { _, err := p.collections.ListPages(ctx, stranger, script.ID); return err },
		"evaluations": func() error { _, err := p.collections.ListScriptEvaluations(ctx, stranger, script.ID); return err },
		"scores":      func() error { _, err := p.collections.Scores(ctx, stranger, collection.ID, 1, 20); return err },
	} {
		assert.ErrorIs(t, call(), util.ErrPermissionDenied, name)
	}

	_, err = p.collections.ListPages(ctx, owner, model.GenerateUUID())
	assert.ErrorIs(t, err, util.ErrDocumentNotFound)
}

func TestCollectionService_FoldersAndDownloads(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	collection := p.seedCollection(t, owner.UserID)
	qp := p.seedQuestionPaper(t, collection.ID, 1, false)
	script := p.seedScript(t, collection.ID, "judy", 1)

	folders, err := p.collections.ListAnswerFolders(ctx, owner, collection.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, script.AnswerFolderID, folders[0].ID)

	scripts, err := p.collections.ListFolderScripts(ctx, owner, script.AnswerFolderID)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, script.ID, scripts[0].ID)

	_, err = p.collections.OpenAnswerScript(ctx, owner, script.ID)
	assert.ErrorIs(t, err, util.ErrDocumentNotFound, "record exists but the PDF was never stored")

	pdf := testutil.MinimalPDF(1)
	_, err = p.storage.Upload(ctx, script.FilePath, bytes.NewReader(pdf), int64(len(pdf)), util.MimePDF)
	require.NoError(t, err)
	_, err = p.storage.Upload(ctx, qp.FilePath, bytes.NewReader(pdf), int64(len(pdf)), util.MimePDF)
	require.NoError(t, err)

	file, err := p.collections.OpenAnswerScript(ctx, owner, script.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(file.Reader)
	require.NoError(t, err)
	require.NoError(t, file.Reader.Close())
	assert.Equal(t, pdf, data)
	assert.Equal(t, "judy.pdf", file.Name)

	file, err = p.collections.OpenLatestQuestionPaper(ctx, owner, collection.ID)
	require.NoError(t, err)
	require.NoError(t, file.Reader.Close())
	assert.Equal(t, "qp.pdf", file.Name)

	t.Run("permissions", func(t *testing.T) {
		_, err := p.collections.ListAnswerFolders(ctx, stranger, collection.ID)
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
		_, err = p.collections.ListFolderScripts(ctx, stranger, script.AnswerFolderID)
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
		_, err = p.collections.OpenAnswerScript(ctx, stranger, script.ID)
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
		_, err = p.collections.OpenLatestQuestionPaper(ctx, stranger, collection.ID)
		assert.ErrorIs(t, err, util.ErrPermissionDenied)
	})

	t.Run("collection without question paper", func(t *testing.T) {
		empty := p.seedCollection(t, owner.UserID)
		_, err := p.collections.OpenLatestQuestionPaper(ctx, owner, empty.ID)
		assert.ErrorIs(t, err, util.ErrDocumentNotFound)
	})
}
