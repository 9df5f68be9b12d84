// Package openai provides a generation engine backed directly by the
// official OpenAI Go SDK. Use this instead of the anyllm backend when you
// need SDK-level request options (organization headers, custom HTTP client)
// against OpenAI or an OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/oakmund/sprout/pkg/engine"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Compile-time interface check.
var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine using the OpenAI chat completions API.
type Engine struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the engine.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point at
// an OpenAI-compatible local server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Engine. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai engine: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Engine{client: client, model: model}, nil
}

// Generate implements engine.Engine.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = oai.Float(req.Temperature)
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(fmt.Errorf("openai engine: completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai engine: empty choices: %w", engine.ErrMalformed)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai engine: empty completion text: %w", engine.ErrMalformed)
	}
	return text, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "openai" }

// classify wraps transport-level failures with the matching engine sentinel.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", engine.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", engine.ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", engine.ErrUnreachable, err)
	}
	return err
}
