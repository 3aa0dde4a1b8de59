// Package llm is the AI completion client used by the generation pipeline.
//
// A Client takes a system prompt and role-tagged messages, optionally with
// image or document attachments, and returns the raw completion text.
// Failures are reported as *ProviderError so callers can tell transient
// conditions (rate limits, overload, timeouts) from terminal ones.
//
// Clients do not retry. A request that fails is reported once; retry
// policy belongs to the caller.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Role tags a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is binary content sent alongside a message.
type Attachment struct {
	MIMEType string
	Data     []byte
	Name     string
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// IsDocument reports whether the attachment is a PDF document.
func (a Attachment) IsDocument() bool {
	return a.MIMEType == "application/pdf"
}

// Base64 returns the standard base64 encoding of Data.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the attachment as a data: URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MIMEType + ";base64," + a.Base64()
}

// Message is one turn of the conversation.
type Message struct {
	Role        Role
	Content     string
	Attachments []Attachment
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Validate checks the request is well formed.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return badRequest("at least one message is required")
	}
	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return badRequest("message %d has invalid role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
			return badRequest("message %d is empty", i)
		}
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return badRequest("temperature %.2f out of range [0,1]", r.Temperature)
	}
	return nil
}

func badRequest(format string, args ...any) error {
	return newError("request", KindBadRequest, 0, fmt.Errorf(format, args...))
}

// Client produces completions.
type Client interface {
	// Complete returns the completion text. Errors are *ProviderError.
	Complete(ctx context.Context, req Request) (string, error)
}
