package repository

import (
	"context"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/testutil"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedScript(t *testing.T, repo *DocumentRepository, collectionID, name string, pages int, createdAt time.Time) *model.AnswerScript {
	t.Helper()
	script := &model.AnswerScript{
		UUIDBase:     model.UUIDBase{CreatedAt: createdAt},
		CollectionID: collectionID,
		Name:         name,
		FilePath:     name + ".pdf",
		FolderPath:   name,
		PageCount:    pages,
	}
	rows := make([]model.Page, pages)
	for i := range rows {
		rows[i] = model.Page{PageNo: i + 1, ImagePath: fmt.Sprintf("%s/page%d.png", name, i+1)}
	}
	require.NoError(t, repo.CreateAnswerScript(context.Background(), script, rows))
	return script
}

func TestDocumentRepository_LatestQuestionPaper(t *testing.T) {
	repo := NewDocumentRepository(testutil.NewTestDB(t))
	ctx := context.Background()
	cid := model.GenerateUUID()

	_, err := repo.LatestQuestionPaper(ctx, cid)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"first", "second", "third"} {
		qp := &model.QuestionPaper{
			UUIDBase:     model.UUIDBase{CreatedAt: base.Add(time.Duration(i) * time.Minute)},
			CollectionID: cid,
			Name:         name,
			FilePath:     name + ".pdf",
			FolderPath:   name,
		}
		require.NoError(t, repo.CreateQuestionPaper(ctx, qp))
	}

	latest, err := repo.LatestQuestionPaper(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, "third", latest.Name)

	all, err := repo.ListQuestionPapers(ctx, cid)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, latest.ID, all[0].ID, "listing and latest agree on order")
}

func TestDocumentRepository_AnswerScripts(t *testing.T) {
	repo := NewDocumentRepository(testutil.NewTestDB(t))
	ctx := context.Background()
	cid := model.GenerateUUID()

	base := time.Now().Add(-time.Hour)
	second := seedScript(t, repo, cid, "second", 2, base.Add(time.Minute))
	first := seedScript(t, repo, cid, "first", 3, base)
	seedScript(t, repo, model.GenerateUUID(), "elsewhere", 1, base)

	ids, err := repo.AnswerScriptIDs(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, ids)

	pages, err := repo.PagesByScript(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNo)
		assert.Equal(t, first.ID, p.AnswerScriptID)
	}

	page, total, err := repo.ListAnswerScripts(ctx, cid, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, page, 1)
}

func TestDocumentRepository_DuplicatePageNumberRollsBack(t *testing.T) {
	repo := NewDocumentRepository(testutil.NewTestDB(t))
	ctx := context.Background()
	cid := model.GenerateUUID()

	script := &model.AnswerScript{CollectionID: cid, Name: "dup", FilePath: "dup.pdf", FolderPath: "dup", PageCount: 2}
	err := repo.CreateAnswerScript(ctx, script, []model.Page{
		{PageNo: 1, ImagePath: "dup/page1.png"},
		{PageNo: 1, ImagePath: "dup/page1.png"},
	})
	require.Error(t, err)

	ids, err := repo.AnswerScriptIDs(ctx, cid)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEvaluationRepository_SavePageResultsAndScores(t *testing.T) {
	db := testutil.NewTestDB(t)
	docs := NewDocumentRepository(db)
	evals := NewEvaluationRepository(db)
	ctx := context.Background()
	cid := model.GenerateUUID()

	script := seedScript(t, docs, cid, "alice", 2, time.Now())
	empty := seedScript(t, docs, cid, "bob", 1, time.Now().Add(time.Second))
	pages, err := docs.PagesByScript(ctx, script.ID)
	require.NoError(t, err)

	f := func(v float64) *float64 { return &v }
	q := func(s string) *string { return &s }

	require.NoError(t, evals.SavePageResults(ctx, pages[0].ID, []model.Evaluation{
		{QuestionNo: q("1.1"), ObtainedMarks: f(3), MaxMarks: f(5), EvaluationJSONPath: "r1.json"},
		{QuestionNo: q("1.2"), ObtainedMarks: f(1.5), MaxMarks: f(2), EvaluationJSONPath: "r1.json"},
	}))
	require.NoError(t, evals.SavePageResults(ctx, pages[1].ID, nil))

	stored, err := docs.FindPageByID(ctx, pages[1].ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEvaluated, "a page with no answers is still evaluated")

	records, err := evals.ListByScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	byPage, err := evals.ListByPage(ctx, pages[0].ID)
	require.NoError(t, err)
	assert.Len(t, byPage, 2)

	scores, total, err := evals.ScoresByCollection(ctx, cid, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, scores, 2)
	assert.Equal(t, script.ID, scores[0].AnswerScriptID)
	assert.InDelta(t, 4.5, scores[0].ObtainedMarks, 1e-9)
	assert.InDelta(t, 7.0, scores[0].MaxMarks, 1e-9)
	assert.Equal(t, int64(2), scores[0].Records)
	assert.Equal(t, empty.ID, scores[1].AnswerScriptID)
	assert.Equal(t, int64(0), scores[1].Records)
}

func TestEvaluationRepository_ReEvaluationReplacesCurrentRound(t *testing.T) {
	db := testutil.NewTestDB(t)
	docs := NewDocumentRepository(db)
	evals := NewEvaluationRepository(db)
	ctx := context.Background()
	cid := model.GenerateUUID()

	script := seedScript(t, docs, cid, "carol", 1, time.Now())
	pages, err := docs.PagesByScript(ctx, script.ID)
	require.NoError(t, err)
	pageID := pages[0].ID

	f := func(v float64) *float64 { return &v }
	q := func(s string) *string { return &s }

	require.NoError(t, evals.SavePageResults(ctx, pageID, []model.Evaluation{
		{QuestionNo: q("1.1"), ObtainedMarks: f(2), MaxMarks: f(5), EvaluationJSONPath: "r.json"},
	}))
	require.NoError(t, evals.SavePageResults(ctx, pageID, []model.Evaluation{
		{QuestionNo: q("1.1"), ObtainedMarks: f(3), MaxMarks: f(5), EvaluationJSONPath: "r.json"},
	}))

	stored, err := docs.FindPageByID(ctx, pageID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EvaluationRound)

	scores, _, err := evals.ScoresByCollection(ctx, cid, 1, 20)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.InDelta(t, 3.0, scores[0].ObtainedMarks, 1e-9)
	assert.InDelta(t, 5.0, scores[0].MaxMarks, 1e-9)
	assert.Equal(t, int64(1), scores[0].Records)

	current, err := evals.ListByScript(ctx, script.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, 2, current[0].Round)
	assert.InDelta(t, 3.0, *current[0].ObtainedMarks, 1e-9)

	byPage, err := evals.ListByPage(ctx, pageID)
	require.NoError(t, err)
	assert.Len(t, byPage, 1)

	history, err := evals.ListHistoryByScript(ctx, script.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []int{1, 2}, []int{history[0].Round, history[1].Round})
}

func TestEvaluationRepository_SaveUnknownPage(t *testing.T) {
	evals := NewEvaluationRepository(testutil.NewTestDB(t))
	err := evals.SavePageResults(context.Background(), model.GenerateUUID(), nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCollectionRepository_ListScopesByOwner(t *testing.T) {
	repo := NewCollectionRepository(testutil.NewTestDB(t))
	ctx := context.Background()

	for i, owner := range []uint{1, 1, 2} {
		require.NoError(t, repo.Create(ctx, &model.Collection{Name: fmt.Sprintf("c%d", i), OwnerID: owner}))
	}

	mine, total, err := repo.List(ctx, 1, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, mine, 2)

	_, total, err = repo.List(ctx, 0, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	c := mine[0]
	require.NoError(t, repo.SetEvaluated(ctx, c.ID, true))
	got, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEvaluated)
}
