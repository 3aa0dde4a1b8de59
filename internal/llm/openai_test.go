package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeGenerator struct {
	messages []llms.MessageContent
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	return f.resp, f.err
}

func textResponse(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func TestOpenAIClient_Complete(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(`{"content":"hello"}`)}
	c := newOpenAIClient(gen, OpenAIConfig{RequestsPerMinute: 6000})

	req := Request{
		System: "rules",
		Messages: []Message{
			{Role: RoleUser, Content: "draft"},
			{Role: RoleAssistant, Content: "previous"},
			{Role: RoleUser, Content: "look", Attachments: []Attachment{{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}}},
		},
	}
	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"content":"hello"}`, out)

	require.Len(t, gen.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, gen.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, gen.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, gen.messages[2].Role)

	last := gen.messages[3].Parts
	require.Len(t, last, 2)
	img, ok := last[0].(llms.ImageURLContent)
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,/9g=", img.URL)
}

func TestOpenAIClient_RejectsDocuments(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("x")}
	c := newOpenAIClient(gen, OpenAIConfig{})

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{
		Role:        RoleUser,
		Content:     "summarize",
		Attachments: []Attachment{{MIMEType: "application/pdf", Data: []byte("%PDF"), Name: "brief.pdf"}},
	}}})
	assert.ErrorIs(t, err, ErrUnsupportedAttachment)
	assert.Nil(t, gen.messages)
}

func TestOpenAIClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"API returned unexpected status code: 429: Rate limit reached", ErrRateLimited},
		{"API returned unexpected status code: 401: Incorrect API key", ErrInvalidCredentials},
		{"API returned unexpected status code: 500: server error", ErrOverloaded},
		{"API returned unexpected status code: 400: bad", ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c := newOpenAIClient(&fakeGenerator{err: errors.New(tt.msg)}, OpenAIConfig{RequestsPerMinute: 6000})
			_, err := c.Complete(context.Background(), userRequest("hi"))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	c := newOpenAIClient(&fakeGenerator{err: errors.New("weird")}, OpenAIConfig{})
	_, err := c.Complete(context.Background(), userRequest("hi"))
	assert.Equal(t, KindUnknown, KindOf(err))
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := newOpenAIClient(&fakeGenerator{resp: &llms.ContentResponse{}}, OpenAIConfig{})
	_, err := c.Complete(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
