package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

const (
	providerOpenAI     = "openai"
	defaultOpenAIModel = "gpt-4o"
)

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// contentGenerator is the langchaingo call the client relies on.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	RequestsPerMinute float64
}

// OpenAIClient calls an OpenAI-compatible chat API through langchaingo.
// Images are sent as data URLs; documents are not supported.
type OpenAIClient struct {
	llm       contentGenerator
	maxTokens int
	limiter   *rate.Limiter
}

// NewOpenAIClient creates a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return newOpenAIClient(model, cfg), nil
}

func newOpenAIClient(gen contentGenerator, cfg OpenAIConfig) *OpenAIClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	return &OpenAIClient{
		llm:       gen,
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), defaultBurst),
	}
}

// Complete sends one chat completion.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	messages, err := openAIMessages(req)
	if err != nil {
		return "", err
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", limiterError(ctx, providerOpenAI, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	resp, err := o.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", newError(providerOpenAI, KindEmptyResponse, 0, errors.New("no choices"))
	}
	return resp.Choices[0].Content, nil
}

func openAIMessages(req Request) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.System}},
		})
	}
	for _, m := range req.Messages {
		role := schema.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		mc := llms.MessageContent{Role: role}
		for _, att := range m.Attachments {
			if !att.IsImage() || len(att.Data) == 0 {
				return nil, newError(providerOpenAI, KindUnsupportedAttachment, 0,
					fmt.Errorf("%s (%s)", att.Name, att.MIMEType))
			}
			mc.Parts = append(mc.Parts, llms.ImageURLContent{URL: att.DataURL()})
		}
		if m.Content != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
		}
		out = append(out, mc)
	}
	return out, nil
}

// classifyOpenAIError maps langchaingo errors, which carry the HTTP status
// only in their message.
func classifyOpenAIError(ctx context.Context, err error) *ProviderError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return transportError(ctx, providerOpenAI, fmt.Errorf("%w: %v", ctxErr, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transportError(ctx, providerOpenAI, err)
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return newError(providerOpenAI, kindForStatus(status), status, err)
	}
	return newError(providerOpenAI, KindUnknown, 0, err)
}

var _ Client = (*OpenAIClient)(nil)
