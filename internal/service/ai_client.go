package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"perf-agent-server/internal/config"
)

// ErrAIGenerationFailed wraps every failure of the upstream call itself.
var ErrAIGenerationFailed = errors.New("AI generation failed")

const (
	ClientTypeGemini = "gemini"
	ClientTypeOpenAI = "openai"
	ClientTypeOllama = "ollama"

	defaultOllamaBaseURL = "http://localhost:11434"
	fallbackEncoding     = "cl100k_base"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perf_agent_ai_requests_total",
			Help: "Total number of requests to the upstream AI API.",
		},
		[]string{"client", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perf_agent_ai_request_duration_seconds",
			Help:    "Histogram of upstream AI request durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"client", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perf_agent_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts (system instruction + scenario).",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"client", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perf_agent_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.ExponentialBuckets(250, 2, 10),
		},
		[]string{"client", "model"},
	)
)

// GenerationRequest is one structured-output request to the upstream model.
type GenerationRequest struct {
	SystemInstruction string
	UserInput         string
	Schema            ResponseSchema
}

// UsageInfo reports token usage. Estimated is set when the counts come from the
// local tokenizer rather than the upstream response.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// AIClient sends a single JSON-mode request upstream and returns the raw response text.
// Implementations do not retry and are safe for concurrent use.
type AIClient interface {
	GenerateJSON(ctx context.Context, req GenerationRequest) (string, UsageInfo, error)
	Model() string
}

// NewAIClient builds the client selected by cfg.ClientType.
func NewAIClient(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch strings.ToLower(cfg.ClientType) {
	case ClientTypeGemini, "":
		return newGeminiClient(ctx, cfg, httpClient, logger), nil
	case ClientTypeOpenAI:
		openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			openaiConfig.BaseURL = cfg.BaseURL
		}
		openaiConfig.HTTPClient = httpClient
		logger.Info("OpenAI-compatible client created",
			zap.String("base_url", openaiConfig.BaseURL),
			zap.String("model", cfg.Model),
		)
		return &openAIClient{
			client: openaigo.NewClientWithConfig(openaiConfig),
			model:  cfg.Model,
			logger: logger.Named("OpenAIClient"),
		}, nil
	case ClientTypeOllama:
		return newOllamaClient(cfg, httpClient, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type: '%s'", cfg.ClientType)
	}
}

func observeUsage(client, model string, usage UsageInfo) {
	if usage.TotalTokens <= 0 {
		return
	}
	aiPromptTokens.WithLabelValues(client, model).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.WithLabelValues(client, model).Observe(float64(usage.CompletionTokens))
}

// estimateTokens counts tokens locally for APIs that omit usage.
// Models unknown to tiktoken are counted with cl100k_base; 0 means no tokenizer.
func estimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0
		}
	}
	return len(enc.Encode(text, nil, nil))
}

func estimateUsage(model string, req GenerationRequest, completion string) UsageInfo {
	prompt := estimateTokens(model, req.SystemInstruction) + estimateTokens(model, req.UserInput)
	out := estimateTokens(model, completion)
	return UsageInfo{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

// --- Gemini ---

// geminiClient talks to the Gemini API through the genai SDK. A construction
// failure (typically a missing API key) does not stop start-up; it is returned
// from every call instead.
type geminiClient struct {
	client  *genai.Client
	initErr error
	model   string
	logger  *zap.Logger
}

func newGeminiClient(ctx context.Context, cfg config.AIConfig, httpClient *http.Client, logger *zap.Logger) *geminiClient {
	log := logger.Named("GeminiClient")
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Warn("Gemini client could not be created; generation requests will fail", zap.Error(err))
	} else {
		log.Info("Gemini client created", zap.String("model", cfg.Model), zap.String("base_url", cfg.BaseURL))
	}

	return &geminiClient{
		client:  client,
		initErr: err,
		model:   cfg.Model,
		logger:  log,
	}
}

func (c *geminiClient) Model() string { return c.model }

func (c *geminiClient) GenerateJSON(ctx context.Context, req GenerationRequest) (string, UsageInfo, error) {
	var usage UsageInfo
	if c.initErr != nil {
		aiRequestsTotal.WithLabelValues(ClientTypeGemini, c.model, "error_client").Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, c.initErr)
	}

	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  jsonMIMEType,
		ResponseSchema:    req.Schema.genaiSchema(),
	}

	c.logger.Debug("Sending request to Gemini",
		zap.String("model", c.model),
		zap.Int("user_input_bytes", len(req.UserInput)),
	)
	startTime := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserInput), genConfig)
	duration := time.Since(startTime)
	aiRequestDuration.WithLabelValues(ClientTypeGemini, c.model).Observe(duration.Seconds())

	if err != nil {
		aiRequestsTotal.WithLabelValues(ClientTypeGemini, c.model, "error").Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	text := resp.Text()
	if text == "" {
		aiRequestsTotal.WithLabelValues(ClientTypeGemini, c.model, "error_empty_response").Inc()
		return "", usage, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}

	if md := resp.UsageMetadata; md != nil {
		usage.PromptTokens = int(md.PromptTokenCount)
		usage.CompletionTokens = int(md.CandidatesTokenCount)
		usage.TotalTokens = int(md.TotalTokenCount)
	}
	aiRequestsTotal.WithLabelValues(ClientTypeGemini, c.model, "success").Inc()
	observeUsage(ClientTypeGemini, c.model, usage)

	c.logger.Info("Gemini response received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	return text, usage, nil
}

// --- OpenAI-compatible ---

type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) GenerateJSON(ctx context.Context, req GenerationRequest) (string, UsageInfo, error) {
	var usage UsageInfo

	request := openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemInstruction},
			{Role: openaigo.ChatMessageRoleUser, Content: req.UserInput},
		},
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openaigo.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.openAIDefinition(),
				Strict: true,
			},
		},
	}

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	duration := time.Since(startTime)
	aiRequestDuration.WithLabelValues(ClientTypeOpenAI, c.model).Observe(duration.Seconds())

	if err != nil {
		aiRequestsTotal.WithLabelValues(ClientTypeOpenAI, c.model, "error").Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.WithLabelValues(ClientTypeOpenAI, c.model, "error_empty_response").Inc()
		return "", usage, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}

	text := resp.Choices[0].Message.Content
	if resp.Usage.TotalTokens > 0 {
		usage = UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	} else {
		c.logger.Warn("Usage block missing from response, estimating token counts")
		usage = estimateUsage(c.model, req, text)
	}
	aiRequestsTotal.WithLabelValues(ClientTypeOpenAI, c.model, "success").Inc()
	observeUsage(ClientTypeOpenAI, c.model, usage)

	c.logger.Info("OpenAI response received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Bool("estimated", usage.Estimated),
	)
	return text, usage, nil
}

// --- Ollama ---

type ollamaClient struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

func newOllamaClient(cfg config.AIConfig, httpClient *http.Client, logger *zap.Logger) (AIClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	// The native API lives at the root, not under the OpenAI-compatible /v1 prefix.
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL '%s': %w", baseURL, err)
	}

	log := logger.Named("OllamaClient")
	log.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", cfg.Model))
	return &ollamaClient{
		client: api.NewClient(parsedURL, httpClient),
		model:  cfg.Model,
		logger: log,
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) GenerateJSON(ctx context.Context, req GenerationRequest) (string, UsageInfo, error) {
	var usage UsageInfo
	stream := false

	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: req.SystemInstruction},
			{Role: "user", Content: req.UserInput},
		},
		Stream: &stream,
		Format: req.Schema.JSONSchema(),
	}

	var last api.ChatResponse
	startTime := time.Now()
	err := c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		last = r
		return nil
	})
	duration := time.Since(startTime)
	aiRequestDuration.WithLabelValues(ClientTypeOllama, c.model).Observe(duration.Seconds())

	if err != nil {
		aiRequestsTotal.WithLabelValues(ClientTypeOllama, c.model, "error").Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if last.Message.Content == "" {
		aiRequestsTotal.WithLabelValues(ClientTypeOllama, c.model, "error_empty_response").Inc()
		return "", usage, fmt.Errorf("%w: empty response", ErrAIGenerationFailed)
	}

	usage = UsageInfo{
		PromptTokens:     last.PromptEvalCount,
		CompletionTokens: last.EvalCount,
		TotalTokens:      last.PromptEvalCount + last.EvalCount,
	}
	aiRequestsTotal.WithLabelValues(ClientTypeOllama, c.model, "success").Inc()
	observeUsage(ClientTypeOllama, c.model, usage)

	c.logger.Info("Ollama response received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(last.Message.Content)),
		zap.String("done_reason", last.DoneReason),
	)
	return last.Message.Content, usage, nil
}
