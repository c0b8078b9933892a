// Package llm talks to an OpenAI-compatible backend for text generation and
// embeddings. Long prompts are chunked on sentence boundaries and transient
// failures are retried with a shrinking token budget.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/metrics"
)

const (
	// maxContext is the prompt length above which prompts are chunked.
	maxContext = 8000
	// chunkSize is the target length of a single chunk.
	chunkSize = 4000

	temperatureStep = 0.1
	tokenDecay      = 0.8
	maxTemperature  = 2.0
)

// Options tunes a single generation call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Available(ctx context.Context) bool
}

// Config configures Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	EmbeddingModel    string
	MaxAttempts       int
	RequestsPerSecond float64
	Timeout           time.Duration
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
}

// Client implements Generator and similarity.Embedder on go-openai.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	probeOnce sync.Once
	available bool
}

// New creates a Client. No request is made until the first call.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Available probes the backend once by listing models and caches the answer
// for the lifetime of the client.
func (c *Client) Available(ctx context.Context) bool {
	c.probeOnce.Do(func() {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := c.api.ListModels(pctx); err != nil {
			c.logger.Warn("llm: backend unavailable", slog.String("base_url", c.cfg.BaseURL), slog.String("error", err.Error()))
			return
		}
		c.available = true
	})
	return c.available
}

// Generate returns the completion for prompt. Prompts longer than the
// context window are split into chunks that are generated independently and
// concatenated; a chunk that fails is logged and skipped.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if len(prompt) <= maxContext {
		return c.generateWithRetry(ctx, prompt, opts)
	}

	chunks := SplitChunks(prompt, chunkSize)
	results := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("llm: generate: %w", apperr.ErrCancelled)
		}
		chunkOpts := opts
		if budget := int(float64(len(chunk)) * 1.5); budget < chunkOpts.MaxTokens || chunkOpts.MaxTokens <= 0 {
			chunkOpts.MaxTokens = budget
		}
		out, err := c.generateWithRetry(ctx, chunk, chunkOpts)
		if err != nil {
			c.logger.Warn("llm: chunk failed", slog.Int("chunk", i), slog.Int("chunks", len(chunks)), slog.String("error", err.Error()))
			continue
		}
		results = append(results, out)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("llm: generate: all %d chunks failed", len(chunks))
	}
	return strings.Join(results, "\n"), nil
}

func (c *Client) generateWithRetry(ctx context.Context, prompt string, opts Options) (string, error) {
	attempt := 0
	op := func() (string, error) {
		o := retryOptions(opts, attempt)
		if attempt > 0 {
			metrics.GenerationRetries.Inc()
			c.logger.Debug("llm: retrying", slog.Int("attempt", attempt+1),
				slog.Float64("temperature", float64(o.Temperature)), slog.Int("max_tokens", o.MaxTokens))
		}
		attempt++

		out, err := c.complete(ctx, prompt, o)
		if err != nil && !isTransient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm: generate: %w", apperr.ErrCancelled)
		}
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return out, nil
}

// retryOptions nudges temperature up and shrinks the token budget for the
// given zero-based attempt.
func retryOptions(opts Options, attempt int) Options {
	if attempt == 0 {
		return opts
	}
	out := opts
	out.Temperature = float32(math.Min(float64(opts.Temperature)+temperatureStep*float64(attempt), maxTemperature))
	if opts.MaxTokens > 0 {
		out.MaxTokens = int(float64(opts.MaxTokens) * math.Pow(tokenDecay, float64(attempt)))
		if out.MaxTokens < 1 {
			out.MaxTokens = 1
		}
	}
	return out
}

func (c *Client) complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: embed: %w", apperr.ErrUnavailable)
	}
	raw := resp.Data[0].Embedding
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

// isTransient reports whether err is worth retrying: server errors, rate
// limiting, network failures, truncated bodies and context-length overflows
// (which a smaller token budget may fix).
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "context length")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "context length")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
