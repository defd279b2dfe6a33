package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageEvaluator_StoresModelOutputUnclamped(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	collection := p.seedCollection(t, 1)
	script := p.seedScript(t, collection.ID, "frank", 1)
	page := p.pagesFor(t, script.ID)[0]

	schema, err := ParseExamSchema(sampleSchema)
	require.NoError(t, err)

	modelOutput := `[{"question_no": "1.1", "obtained_marks": 7, "max_marks": 5, "feedback": "generous"}, {}]`
	p.inference.SetResponder(func([]string, string) (string, error) {
		return "```json\n" + modelOutput + "\n```", nil
	})

	n, err := p.evaluator.Evaluate(ctx, page, schema)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, page.IsEvaluated)

	data, err := p.storage.ReadAll(ctx, ResultKey(page))
	require.NoError(t, err)
	assert.JSONEq(t, modelOutput, string(data))

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored, 2, "empty entries stay in the file")

	records := p.evaluationsFor(t, script.ID)
	require.Len(t, records, 1)
	assert.Equal(t, 5.0, *records[0].ObtainedMarks)
	assert.Equal(t, ResultKey(page), records[0].EvaluationJSONPath)
}

func TestPageEvaluator_PromptCarriesFullSchema(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	collection := p.seedCollection(t, 1)
	script := p.seedScript(t, collection.ID, "grace", 1)
	page := p.pagesFor(t, script.ID)[0]

	schema, err := ParseExamSchema(`{"sections": [{"section_name": "Q1", "required_questions": 2, "questions": []}]}`)
	require.NoError(t, err)

	var prompt string
	p.inference.SetResponder(func(_ []string, pr string) (string, error) {
		prompt = pr
		return `[]`, nil
	})

	n, err := p.evaluator.Evaluate(ctx, page, schema)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, prompt, `"required_questions": 2`)
	assert.Equal(t, []string{page.ImagePath}, p.inference.LastCall())
}
