package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"exam_eval_backend/internal/config"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"exam_eval_backend/pkg/monitoring"
	"exam_eval_backend/pkg/tracing"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// InferenceProvider 视觉语言模型调用：按顺序附带图片，返回模型原始文本
type InferenceProvider interface {
	Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error)
}

// ---------------------------------------------------------------------------
// OpenAI 兼容接口（OpenRouter 等）
// ---------------------------------------------------------------------------

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []VisionMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type OpenAIProvider struct {
	Config     config.AIConfig
	Storage    *StorageService
	HTTPClient *http.Client
	Retry      RetryConfig
}

func NewOpenAIProvider(cfg config.AIConfig, storage *StorageService) *OpenAIProvider {
	client := &http.Client{}
	if cfg.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &OpenAIProvider{
		Config:     cfg,
		Storage:    storage,
		HTTPClient: client,
		Retry: RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

func (p *OpenAIProvider) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	parts := []ContentPart{{Type: "text", Text: prompt}}
	for _, key := range imageKeys {
		data, err := p.Storage.ReadAll(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to read image %s: %w", key, err)
		}
		parts = append(parts, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:" + util.MimePNG + ";base64," + base64.StdEncoding.EncodeToString(data)},
		})
	}

	body, err := json.Marshal(ChatCompletionRequest{
		Model:    p.Config.Model,
		Messages: []VisionMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		return "", err
	}

	resp, err := p.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.Config.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.Config.APIKey)
		return p.HTTPClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("AI returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (r RetryConfig) backoff(attempt int) time.Duration {
	d := float64(r.InitialBackoff) * math.Pow(2, float64(attempt))
	if r.MaxBackoff > 0 && d > float64(r.MaxBackoff) {
		d = float64(r.MaxBackoff)
	}
	return time.Duration(d)
}

// doWithRetry 仅对 429 与 5xx 重试，其余状态码原样返回给调用方
func (p *OpenAIProvider) doWithRetry(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= p.Retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := do()
		if err == nil && !shouldRetry(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt == p.Retry.MaxRetries {
			break
		}
		wait := p.Retry.backoff(attempt)
		logger.Log.Warn("Inference request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", p.Retry.MaxRetries, lastErr)
}

// ---------------------------------------------------------------------------
// Vertex AI Gemini
// ---------------------------------------------------------------------------

type VertexProvider struct {
	Model   *genai.GenerativeModel
	Storage *StorageService
	client  *genai.Client
}

func NewVertexProvider(ctx context.Context, cfg config.AIConfig, storage *StorageService) (*VertexProvider, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("NewVertexProvider: projectID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" || strings.Contains(modelName, "/") {
		modelName = "gemini-2.5-flash"
	}
	model := client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: util.MimeJSON,
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexProvider{Model: model, Storage: storage, client: client}, nil
}

func (p *VertexProvider) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	parts := []genai.Part{genai.Text(prompt)}
	for _, key := range imageKeys {
		data, err := p.Storage.ReadAll(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to read image %s: %w", key, err)
		}
		parts = append(parts, genai.ImageData("png", data))
	}

	resp, err := p.Model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("vertex returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("vertex response contained no text parts")
	}
	return sb.String(), nil
}

func (p *VertexProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// InferenceService 限流、追踪、指标与错误归类
// ---------------------------------------------------------------------------

type InferenceService struct {
	Provider InferenceProvider
	Name     string
	limiter  *rate.Limiter
}

func NewInferenceService(ctx context.Context, cfg *config.Config, storage *StorageService) (*InferenceService, error) {
	var provider InferenceProvider
	switch cfg.AI.Provider {
	case util.ProviderVertex:
		p, err := NewVertexProvider(ctx, cfg.AI, storage)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		provider = NewOpenAIProvider(cfg.AI, storage)
	}
	return NewInferenceServiceWithProvider(cfg.AI.Provider, provider, cfg.AI.RequestsPerMinute), nil
}

func NewInferenceServiceWithProvider(name string, provider InferenceProvider, requestsPerMinute int) *InferenceService {
	return &InferenceService{
		Provider: provider,
		Name:     name,
		limiter:  rate.NewLimiter(limitFor(requestsPerMinute), 1),
	}
}

func limitFor(requestsPerMinute int) rate.Limit {
	if requestsPerMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(requestsPerMinute))
}

// SetRate 配置热更新时调整调用频率
func (s *InferenceService) SetRate(requestsPerMinute int) {
	s.limiter.SetLimit(limitFor(requestsPerMinute))
}

func (s *InferenceService) Invoke(ctx context.Context, imageKeys []string, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "inference.invoke",
		attribute.String("provider", s.Name),
		attribute.Int("images", len(imageKeys)),
	)
	defer span.End()

	if err := s.limiter.Wait(ctx); err != nil {
		tracing.RecordError(span, err)
		return "", util.NewPipelineError(util.ErrInferenceUnavailable, "rate limiter", err)
	}

	start := time.Now()
	out, err := s.Provider.Invoke(ctx, imageKeys, prompt)
	result := "success"
	if err != nil {
		result = "error"
	}
	monitoring.InferenceDuration.WithLabelValues(s.Name, result).Observe(time.Since(start).Seconds())

	if err != nil {
		tracing.RecordError(span, err)
		var pe *util.PipelineError
		if errors.As(err, &pe) {
			return "", err
		}
		return "", util.NewPipelineError(util.ErrInferenceUnavailable, s.Name, err)
	}
	return out, nil
}

func (s *InferenceService) Close() error {
	if c, ok := s.Provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
