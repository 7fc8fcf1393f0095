package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

// ErrCircuitBreakerOpen indicates the circuit breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// ErrEmptySummary indicates the model returned an unusable summary.
var ErrEmptySummary = errors.New("empty summary response")

const (
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute
	rateLimiterBurst        = 5

	summarizeMaxTokens = 256
	pairCheckMaxTokens = 50

	taskSummarize = "summarize"
	taskPairCheck = "pair_check"
	taskEmbedding = "embedding"

	statusOK    = "ok"
	statusError = "error"

	summarizeSystemMessage = "Ты помощник для выделения сути сообщений. Всегда отвечай валидным JSON."
	pairCheckSystemMessage = "Ты помощник для проверки дубликатов новостей. Всегда отвечай валидным JSON."

	summarizePromptTemplate = `Выдели суть сообщения. Ответь JSON с полями:
"text" — краткое изложение сути в 2-3 предложениях,
"hashtags" — список из 1-3 тематических хэштегов,
"headline" — короткий заголовок.

Сообщение:
%s`

	pairCheckPromptTemplate = `Определи, описывают ли два сообщения одно и то же событие.
Ответь JSON с полем "is_duplicate" (true или false).

Сообщение 1:
Заголовок: %s
Текст: %s

Сообщение 2:
Заголовок: %s
Текст: %s`
)

type openaiClient struct {
	cfg         *config.Config
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

func NewOpenAI(cfg *config.Config, logger *zerolog.Logger) Client {
	return &openaiClient{
		cfg:         cfg,
		client:      openai.NewClient(cfg.LLMAPIKey),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPS)), rateLimiterBurst),
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitBreakerOpen, c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}

func (c *openaiClient) Summarize(ctx context.Context, text string) (*Summary, error) {
	content, err := c.completeJSON(ctx, taskSummarize, summarizeSystemMessage,
		fmt.Sprintf(summarizePromptTemplate, text), summarizeMaxTokens)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal([]byte(extractJSON(content)), &summary); err != nil {
		return nil, fmt.Errorf("parse summary response: %w", err)
	}

	if summary.Text == "" && summary.Headline == "" {
		return nil, ErrEmptySummary
	}

	summary.Hashtags = normalizeHashtags(summary.Hashtags)

	return &summary, nil
}

func (c *openaiClient) IsDuplicate(ctx context.Context, candidate, existing Pair) (bool, error) {
	prompt := fmt.Sprintf(pairCheckPromptTemplate,
		candidate.Headline, candidate.Text, existing.Headline, existing.Text)

	content, err := c.completeJSON(ctx, taskPairCheck, pairCheckSystemMessage, prompt, pairCheckMaxTokens)
	if err != nil {
		return false, err
	}

	var result struct {
		IsDuplicate bool `json:"is_duplicate"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return false, fmt.Errorf("parse duplicate check response: %w", err)
	}

	return result.IsDuplicate, nil
}

func (c *openaiClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := c.checkCircuit(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})

	observability.LLMRequestDuration.WithLabelValues(taskEmbedding).Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure()
		observability.LLMRequests.WithLabelValues(taskEmbedding, statusError).Inc()

		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	c.recordSuccess()
	observability.LLMRequests.WithLabelValues(taskEmbedding, statusOK).Inc()

	return resp.Data[0].Embedding, nil
}

func (c *openaiClient) completeJSON(ctx context.Context, task, systemMessage, prompt string, maxTokens int) (string, error) {
	if err := c.checkCircuit(); err != nil {
		return "", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.LLMRequestDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure()
		observability.LLMRequests.WithLabelValues(task, statusError).Inc()

		return "", fmt.Errorf("chat completion: %w", err)
	}

	c.recordSuccess()
	observability.LLMRequests.WithLabelValues(task, statusOK).Inc()

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// normalizeHashtags guarantees a leading '#' and drops empty entries.
func normalizeHashtags(tags []string) []string {
	normalized := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}

		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}

		normalized = append(normalized, tag)
	}

	return normalized
}
