package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/llm"
	"github.com/fyrsmithlabs/copyd/internal/logging"
	"github.com/fyrsmithlabs/copyd/internal/prompts"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

type staticPrompts struct{ set *prompts.Set }

func (p staticPrompts) Current() *prompts.Set { return p.set }

type harness struct {
	store  *records.SQLiteStore
	gate   *gate.Gate
	client *llm.Fake
	svc    *Service
	logs   *logging.TestLogger
}

func newHarness(t *testing.T, responses ...string) *harness {
	t.Helper()
	store, err := records.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q, err := gate.NewQuotaChecker(store, store, gate.TiersFromConfig(config.DefaultTiers()), gate.QuotaOptions{}, nil)
	require.NoError(t, err)
	g, err := gate.New(gate.NewBurstLimiter(), q, nil)
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	client := llm.NewFake(responses...)
	agg := brandctx.NewAggregator(store, nil, brandctx.Options{}, nil)
	svc, err := NewService(g, agg, client, staticPrompts{prompts.Defaults()}, NewStoreSink(store), Config{}, logs.Underlying())
	require.NoError(t, err)

	return &harness{store: store, gate: g, client: client, svc: svc, logs: logs}
}

func (h *harness) used(t *testing.T, s subject.Subject, category string) int {
	t.Helper()
	report, err := h.gate.Usage(context.Background(), s)
	require.NoError(t, err)
	for _, item := range report.Items {
		if item.Category == category {
			return item.Used
		}
	}
	return 0
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

var (
	alice      = subject.Subject{UserID: "alice"}
	testAngle  = Angle{Title: "The day I fired my best client", Pitch: "Why saying no grew the business.", Structure: []string{"scene", "lesson"}, Tone: "candid"}
	draftReply = `{"content":"I fired my best client.","accroche":"I fired my best client.","format":"linkedin-post","pillar":"expertise","objective":"trust"}`
)

func generateInput() GenerateInput {
	return GenerateInput{
		Angle:  testAngle,
		Format: "linkedin-post",
		Answers: []Answer{
			{Question: "What happened?", Answer: "He called me at 11pm on a Sunday."},
		},
	}
}

func TestRun_Angles(t *testing.T) {
	reply := "```json\n{\"angles\":[" + angleJSON("A") + "," + angleJSON("B") + "," + angleJSON("C") + "]}\n```"
	h := newHarness(t, reply)

	res, err := h.svc.Run(context.Background(), alice, "angles", payload(t, AnglesInput{Topic: "pricing", ContentType: "linkedin-post"}))
	require.NoError(t, err)
	assert.Equal(t, StepAngles, res.Step)
	assert.False(t, res.Terminal)
	assert.True(t, res.ContextEmpty)
	assert.Len(t, res.Output.(*AnglesResult).Angles, 3)

	req := h.client.Requests()[0]
	assert.Contains(t, req.System, "# Writing rules")
	assert.Contains(t, req.System, brandctx.Placeholder)
	assert.Contains(t, req.System, "Propose exactly 3 angles")
	assert.Contains(t, req.System, "Format: LinkedIn post")
	assert.Equal(t, 0.9, req.Temperature)
	assert.Contains(t, req.Messages[0].Content, "Topic: pricing")

	// Continuation steps only pass the burst limit.
	assert.Zero(t, h.used(t, alice, gate.CategoryGeneration))
}

func TestRun_PromptOrder(t *testing.T) {
	h := newHarness(t, draftReply)
	require.NoError(t, h.store.PutRecord(context.Background(), "alice", subject.CategoryProfile,
		&records.Profile{FullName: "Alice Martin", Activity: "Pricing consultant"}))

	res, err := h.svc.Run(context.Background(), alice, "generate", payload(t, generateInput()))
	require.NoError(t, err)
	assert.False(t, res.ContextEmpty)

	system := h.client.Requests()[0].System
	rules := strings.Index(system, "# Writing rules")
	brand := strings.Index(system, "Alice Martin")
	task := strings.Index(system, "Write the finished, publish-ready content")
	require.True(t, rules >= 0 && brand >= 0 && task >= 0)
	assert.Less(t, rules, brand)
	assert.Less(t, brand, task)
	assert.Contains(t, h.client.Requests()[0].Messages[0].Content, "He called me at 11pm on a Sunday.")
}

func TestRun_FreeTierFourthGenerateDenied(t *testing.T) {
	h := newHarness(t, draftReply)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := h.svc.Run(ctx, alice, "generate", payload(t, generateInput()))
		require.NoError(t, err, "generate %d", i+1)
		assert.Equal(t, 2-i, res.Admission.Remaining)
	}

	_, err := h.svc.Run(ctx, alice, "generate", payload(t, generateInput()))
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, gate.ReasonQuota, denied.Decision.Reason)
	assert.Equal(t, gate.CategoryGeneration, denied.Decision.Category)
	assert.Equal(t, 3, h.client.Calls(), "denied call must not reach the provider")
}

func TestRun_QuotaDebitedBeforeProviderCall(t *testing.T) {
	h := newHarness(t)
	h.client.Push(llm.FakeResponse{Err: &llm.ProviderError{Provider: "fake", Kind: llm.KindInvalidCredentials, StatusCode: 401}})

	_, err := h.svc.Run(context.Background(), alice, "generate", payload(t, generateInput()))
	assert.ErrorIs(t, err, llm.ErrInvalidCredentials)
	assert.Equal(t, OutcomeProvider, Outcome(err))
	assert.Equal(t, 1, h.used(t, alice, gate.CategoryGeneration))
	assert.Equal(t, 1, h.logs.FilterMessage("completion failed").Len())
}

func TestRun_ProviderTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.client.Block = true
	agg := brandctx.NewAggregator(h.store, nil, brandctx.Options{}, nil)
	timed, err := NewService(h.gate, agg, llm.WithTimeout(h.client, 20*time.Millisecond), staticPrompts{prompts.Defaults()}, nil, Config{}, nil)
	require.NoError(t, err)

	_, err = timed.Run(context.Background(), alice, "dictation-transcribe", payload(t, DictationInput{
		Text: "so um basically I started the business in my kitchen", TargetFormat: "instagram-caption",
	}))
	assert.ErrorIs(t, err, llm.ErrTimeout)
	assert.True(t, llm.IsRetryable(err))
	assert.Equal(t, 1, h.used(t, alice, gate.CategoryGeneration))
}

func TestRun_ValidationBeforeAnything(t *testing.T) {
	h := newHarness(t, draftReply)
	ctx := context.Background()

	tests := []struct {
		name    string
		step    string
		payload json.RawMessage
		paths   []string
	}{
		{name: "unknown step", step: "summarize", payload: json.RawMessage(`{}`), paths: []string{"step"}},
		{name: "empty payload", step: "angles", payload: nil, paths: []string{""}},
		{name: "unknown field", step: "angles", payload: json.RawMessage(`{"topic":"x","contentType":"newsletter","extra":1}`), paths: []string{""}},
		{name: "missing topic and bad format", step: "angles", payload: json.RawMessage(`{"contentType":"fax"}`), paths: []string{"topic", "contentType"}},
		{name: "topic too long", step: "angles", payload: payload(t, AnglesInput{Topic: strings.Repeat("x", maxTopic+1), ContentType: "newsletter"}), paths: []string{"topic"}},
		{name: "too many answers", step: "follow-up", payload: payload(t, FollowUpInput{Answers: make([]Answer, maxAnswers+1)}), paths: []string{"answers"}},
		{name: "adjust without instruction", step: "adjust", payload: payload(t, AdjustInput{Draft: Draft{Content: "x"}}), paths: []string{"instruction"}},
		{name: "recycle without source", step: "recycle", payload: payload(t, RecycleInput{TargetFormats: []string{"newsletter"}}), paths: []string{"sourceContent"}},
		{name: "recycle duplicate targets", step: "recycle", payload: payload(t, RecycleInput{SourceContent: "x", TargetFormats: []string{"newsletter", "newsletter"}}), paths: []string{"targetFormats[1]"}},
		{name: "recycle bad file", step: "recycle", payload: payload(t, RecycleInput{SourceFile: &SourceFile{MIMEType: "text/plain", Data: []byte("x")}, TargetFormats: []string{"newsletter"}}), paths: []string{"sourceFile.mimeType"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Run(ctx, alice, tt.step, tt.payload)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			var paths []string
			for _, f := range verr.Fields {
				paths = append(paths, f.Path)
			}
			for _, p := range tt.paths {
				assert.Contains(t, paths, p)
			}
		})
	}

	assert.Zero(t, h.client.Calls())
	assert.Zero(t, h.used(t, alice, gate.CategoryGeneration))
	assert.Zero(t, h.used(t, alice, gate.CategoryRecycle))
}

func TestRun_InvalidSubject(t *testing.T) {
	h := newHarness(t, draftReply)
	_, err := h.svc.Run(context.Background(), subject.Subject{}, "generate", payload(t, generateInput()))
	assert.True(t, IsValidation(err))
	assert.Zero(t, h.client.Calls())
}

func TestRun_MalformedCarriesRaw(t *testing.T) {
	h := newHarness(t, "Sorry, I can only answer in prose.")
	_, err := h.svc.Run(context.Background(), alice, "generate", payload(t, generateInput()))

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "Sorry, I can only answer in prose.", malformed.Raw)
	assert.Equal(t, StepGenerate, malformed.Step)
	assert.Equal(t, 1, h.used(t, alice, gate.CategoryGeneration))
}

func TestRun_AdjustRoundTrip(t *testing.T) {
	h := newHarness(t, draftReply, `{"content":"I fired my best client. Best decision of 2024."}`)
	ctx := context.Background()

	res, err := h.svc.Run(ctx, alice, "generate", payload(t, generateInput()))
	require.NoError(t, err)
	draft := *res.Output.(*Draft)

	res, err = h.svc.Run(ctx, alice, "adjust", payload(t, AdjustInput{Draft: draft, Instruction: "add the year"}))
	require.NoError(t, err)
	adjusted := res.Output.(*Draft)

	assert.Equal(t, "I fired my best client. Best decision of 2024.", adjusted.Content)
	assert.Equal(t, draft.Accroche, adjusted.Accroche)
	assert.Equal(t, draft.Format, adjusted.Format)
	assert.Equal(t, draft.Pillar, adjusted.Pillar)
	assert.Equal(t, draft.Objective, adjusted.Objective)
	assert.Equal(t, 1, h.used(t, alice, gate.CategoryGeneration), "adjust does not consume generation quota")
}

func TestRun_RecycleWithAttachment(t *testing.T) {
	h := newHarness(t, `{"results":{"newsletter":"Dear reader","twitter-thread":"1/ A thread"}}`)
	in := RecycleInput{
		SourceFile:    &SourceFile{Name: "slides.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.7")},
		TargetFormats: []string{"newsletter", "twitter-thread"},
	}

	res, err := h.svc.Run(context.Background(), alice, "recycle", payload(t, in))
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Len(t, res.Output.(*RecycleResult).Results, 2)

	msg := h.client.Requests()[0].Messages[0]
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "application/pdf", msg.Attachments[0].MIMEType)
	assert.Equal(t, 1, h.used(t, alice, gate.CategoryRecycle))
}

func TestRun_FollowUpMayReturnNone(t *testing.T) {
	h := newHarness(t, `{"followUpQuestions":[]}`)
	res, err := h.svc.Run(context.Background(), alice, "follow-up", payload(t, FollowUpInput{
		Answers: []Answer{{Question: "Why?", Answer: "Because."}},
	}))
	require.NoError(t, err)
	assert.Empty(t, res.Output.(*FollowUpResult).FollowUpQuestions)
}

func TestRun_ContextOverride(t *testing.T) {
	h := newHarness(t, draftReply)
	require.NoError(t, h.store.PutRecord(context.Background(), "alice", subject.CategoryProfile,
		&records.Profile{FullName: "Alice Martin"}))

	res, err := h.svc.Run(context.Background(), alice, "generate", payload(t, generateInput()),
		WithContextOverride(brandctx.Policy{brandctx.ToggleProfile: false}))
	require.NoError(t, err)
	assert.True(t, res.ContextEmpty)
	assert.NotContains(t, h.client.Requests()[0].System, "Alice Martin")
}

type failingContexts struct{}

func (failingContexts) Build(ctx context.Context, _ subject.Subject, _ brandctx.Policy) (*brandctx.Block, error) {
	return nil, context.Canceled
}

func TestRun_ContextFailureStopsBeforeProvider(t *testing.T) {
	h := newHarness(t, draftReply)
	svc, err := NewService(h.gate, failingContexts{}, h.client, staticPrompts{prompts.Defaults()}, nil, Config{}, nil)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), alice, "angles", payload(t, AnglesInput{Topic: "x", ContentType: "newsletter"}))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, h.client.Calls())
}

func TestApply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	scoped := subject.Subject{UserID: "alice", WorkspaceID: "acme"}
	id := uuid.NewString()
	req := ApplyRequest{ID: id, Step: StepGenerate, Format: "linkedin-post", Content: "Final text"}

	require.NoError(t, h.svc.Apply(ctx, scoped, req))
	require.NoError(t, h.svc.Apply(ctx, scoped, req))

	got, err := h.store.GetContent(ctx, "acme", id)
	require.NoError(t, err)
	assert.Equal(t, "Final text", got.Body)
	assert.Equal(t, "alice", got.UserID)

	err = h.svc.Apply(ctx, scoped, ApplyRequest{ID: "not-a-uuid", Step: StepAngles})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)

	noSink, err := NewService(h.gate, brandctx.NewAggregator(h.store, nil, brandctx.Options{}, nil), h.client, staticPrompts{prompts.Defaults()}, nil, Config{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, noSink.Apply(ctx, scoped, req), ErrNoSink)
}

func TestNewService_Validation(t *testing.T) {
	h := newHarness(t)
	agg := brandctx.NewAggregator(h.store, nil, brandctx.Options{}, nil)
	src := staticPrompts{prompts.Defaults()}

	_, err := NewService(nil, agg, h.client, src, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewService(h.gate, nil, h.client, src, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewService(h.gate, agg, nil, src, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewService(h.gate, agg, h.client, nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestCategory(t *testing.T) {
	for step, want := range map[Step]string{
		StepAngles:    "",
		StepQuestions: "",
		StepFollowUp:  "",
		StepAdjust:    "",
		StepGenerate:  gate.CategoryGeneration,
		StepDictation: gate.CategoryGeneration,
		StepRecycle:   gate.CategoryRecycle,
	} {
		got, ok := Category(step)
		assert.True(t, ok, step)
		assert.Equal(t, want, got, step)
	}
	assert.Len(t, Steps(), len(registry))
}
