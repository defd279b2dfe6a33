package service

import (
	"context"
	"encoding/json"
	"errors"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/testutil"
	"exam_eval_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*OpenAIProvider, *StorageService) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, testutil.WritePNG(filepath.Join(root, "qp", "page1.png")))
	storage := NewLocalStorageService(&config.StorageConfig{Type: "local", LocalPath: root})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(config.AIConfig{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "vision", MaxRetries: 2}, storage)
	p.Retry.InitialBackoff = time.Millisecond
	return p, storage
}

func TestOpenAIProvider_SendsImagesAndRetries(t *testing.T) {
	var attempts atomic.Int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		parts := req.Messages[0].Content
		require.Len(t, parts, 2)
		assert.Equal(t, "grade this", parts[0].Text)
		require.NotNil(t, parts[1].ImageURL)
		assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))

		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "[]"}}]}`))
	})

	out, err := p.Invoke(context.Background(), []string{"qp/page1.png"}, "grade this")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestOpenAIProvider_DoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad model"}}`))
	})

	_, err := p.Invoke(context.Background(), []string{"qp/page1.png"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestOpenAIProvider_MissingImage(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := p.Invoke(context.Background(), []string{"qp/page9.png"}, "x")
	assert.Error(t, err)
}

type providerFunc func(ctx context.Context, imageKeys []string, prompt string) (string, error)

func (f providerFunc) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	return f(ctx, imageKeys, prompt)
}

func TestInferenceService_ClassifiesErrors(t *testing.T) {
	raw := NewInferenceServiceWithProvider("test", providerFunc(func(context.Context, []string, string) (string, error) {
		return "", errors.New("connection refused")
	}), 0)
	_, err := raw.Invoke(context.Background(), nil, "x")
	assert.ErrorIs(t, err, util.ErrInferenceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, util.HTTPStatus(err))

	typed := NewInferenceServiceWithProvider("test", providerFunc(func(context.Context, []string, string) (string, error) {
		return "", util.NewPipelineError(util.ErrMalformedResponse, "truncated", nil)
	}), 0)
	_, err = typed.Invoke(context.Background(), nil, "x")
	assert.ErrorIs(t, err, util.ErrMalformedResponse)
	assert.NotErrorIs(t, err, util.ErrInferenceUnavailable)

	ok := NewInferenceServiceWithProvider("test", providerFunc(func(context.Context, []string, string) (string, error) {
		return "[]", nil
	}), 6000)
	out, err := ok.Invoke(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.NoError(t, ok.Close())
}

func TestInferenceService_RateLimiterHonoursContext(t *testing.T) {
	s := NewInferenceServiceWithProvider("test", providerFunc(func(context.Context, []string, string) (string, error) {
		return "[]", nil
	}), 1)

	_, err := s.Invoke(context.Background(), nil, "x")
	require.NoError(t, err, "first call uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Invoke(ctx, nil, "x")
	assert.ErrorIs(t, err, util.ErrInferenceUnavailable)
}
