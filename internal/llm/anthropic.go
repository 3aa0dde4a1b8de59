package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	providerAnthropic = "anthropic"

	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	anthropicVersion        = "2023-06-01"

	defaultMaxTokens         = 4096
	defaultRequestsPerMinute = 50.0
	defaultBurst             = 5
	maxResponseBytes         = 8 << 20
)

var anthropicImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	RequestsPerMinute float64
	HTTPClient        *http.Client
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAnthropicClient creates a client. Requests are throttled process-wide
// to RequestsPerMinute.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.HTTPClient == nil {
		// Deadlines come from the caller's context.
		cfg.HTTPClient = &http.Client{}
	}

	return &AnthropicClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:  cfg.MaxTokens,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), defaultBurst),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one Messages API call.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	body, err := a.buildRequest(req)
	if err != nil {
		return "", err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", limiterError(ctx, providerAnthropic, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(providerAnthropic, KindBadRequest, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", newError(providerAnthropic, KindBadRequest, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, providerAnthropic, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(ctx, providerAnthropic, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", newError(providerAnthropic, kindForStatus(resp.StatusCode), resp.StatusCode, apiMessage(raw))
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", newError(providerAnthropic, KindUnknown, resp.StatusCode, fmt.Errorf("parse response: %w", err))
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", newError(providerAnthropic, KindEmptyResponse, resp.StatusCode, fmt.Errorf("stop reason %q", out.StopReason))
	}
	return text.String(), nil
}

func (a *AnthropicClient) buildRequest(req Request) (*anthropicRequest, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	out := &anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages:    make([]anthropicMessage, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		msg := anthropicMessage{Role: string(m.Role)}
		// Attachments precede the text they are about.
		for _, att := range m.Attachments {
			block, err := anthropicAttachment(att)
			if err != nil {
				return nil, err
			}
			msg.Content = append(msg.Content, block)
		}
		if m.Content != "" {
			msg.Content = append(msg.Content, anthropicBlock{Type: "text", Text: m.Content})
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func anthropicAttachment(att Attachment) (anthropicBlock, error) {
	if len(att.Data) == 0 {
		return anthropicBlock{}, newError(providerAnthropic, KindUnsupportedAttachment, 0,
			fmt.Errorf("attachment %q is empty", att.Name))
	}
	switch {
	case anthropicImageTypes[att.MIMEType]:
		return anthropicBlock{Type: "image", Source: &anthropicSource{
			Type: "base64", MediaType: att.MIMEType, Data: att.Base64(),
		}}, nil
	case att.IsDocument():
		return anthropicBlock{Type: "document", Source: &anthropicSource{
			Type: "base64", MediaType: att.MIMEType, Data: att.Base64(),
		}}, nil
	}
	return anthropicBlock{}, newError(providerAnthropic, KindUnsupportedAttachment, 0,
		fmt.Errorf("%s (%s)", att.Name, att.MIMEType))
}

// apiMessage extracts the provider's error message from a failed call.
func apiMessage(raw []byte) error {
	var e anthropicError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		if e.Error.Type != "" {
			return fmt.Errorf("%s: %s", e.Error.Type, e.Error.Message)
		}
		return errors.New(e.Error.Message)
	}
	const maxSnippet = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > maxSnippet {
		s = s[:maxSnippet]
	}
	return errors.New(s)
}

var _ Client = (*AnthropicClient)(nil)
