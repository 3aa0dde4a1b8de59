// Package pipeline runs the steps of the content generation conversation.
//
// Each call is stateless: the caller resends every artifact from earlier
// steps. A call is validated, admitted by the gate, given the brand context,
// sent to the completion client and its answer parsed into a typed result.
// The gate debits quota before the provider is called and never refunds it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/llm"
	"github.com/fyrsmithlabs/copyd/internal/prompts"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

const instrumentationName = "github.com/fyrsmithlabs/copyd/internal/pipeline"

// ErrNoSink is returned by Apply when no ResultSink is configured.
var ErrNoSink = errors.New("no result sink configured")

// Admitter decides whether a call may proceed.
type Admitter interface {
	Admit(ctx context.Context, s subject.Subject, category string, policy gate.BurstPolicy) (gate.Decision, error)
}

// ContextBuilder renders the brand context for a subject.
type ContextBuilder interface {
	Build(ctx context.Context, s subject.Subject, policy brandctx.Policy) (*brandctx.Block, error)
}

// PromptSource serves the active prompt set.
type PromptSource interface {
	Current() *prompts.Set
}

// Config tunes the service.
type Config struct {
	// Burst is the short-window limit applied to every step.
	Burst gate.BurstPolicy
	// Overrides are applied on top of a step's context preset.
	Overrides map[Step]brandctx.Policy
}

// RunOption changes a single Run call.
type RunOption func(*runOptions)

type runOptions struct {
	context brandctx.Policy
}

// WithContextOverride toggles context sources for one call, on top of the
// step preset and the configured overrides.
func WithContextOverride(p brandctx.Policy) RunOption {
	return func(o *runOptions) {
		o.context = p
	}
}

// Service runs pipeline steps.
type Service struct {
	gate     Admitter
	contexts ContextBuilder
	client   llm.Client
	prompts  PromptSource
	sink     ResultSink
	cfg      Config
	logger   *zap.Logger

	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewService creates a Service. sink may be nil, in which case Apply fails
// with ErrNoSink.
func NewService(g Admitter, contexts ContextBuilder, client llm.Client, lib PromptSource, sink ResultSink, cfg Config, logger *zap.Logger) (*Service, error) {
	if g == nil {
		return nil, errors.New("gate is required")
	}
	if contexts == nil {
		return nil, errors.New("context builder is required")
	}
	if client == nil {
		return nil, errors.New("completion client is required")
	}
	if lib == nil {
		return nil, errors.New("prompt source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Burst.MaxRequests <= 0 || cfg.Burst.Window <= 0 {
		cfg.Burst = gate.DefaultBurstPolicy()
	}

	s := &Service{
		gate:     g,
		contexts: contexts,
		client:   client,
		prompts:  lib,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.runs, err = meter.Int64Counter(
		"copyd.pipeline.runs_total",
		metric.WithDescription("Pipeline step calls by step and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		s.logger.Warn("failed to create run counter", zap.Error(err))
	}

	s.duration, err = meter.Float64Histogram(
		"copyd.pipeline.duration",
		metric.WithDescription("Pipeline step latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		s.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// Run executes one step for the subject. Errors are *ValidationError,
// *DeniedError, *MalformedResponseError, *llm.ProviderError or a store
// failure wrapping *records.StoreError.
func (s *Service) Run(ctx context.Context, subj subject.Subject, step string, payload json.RawMessage, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("step", step),
	))
	defer span.End()

	res, err := s.run(ctx, subj, step, payload, o)

	outcome := Outcome(err)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && outcome != OutcomeInvalid && outcome != OutcomeDenied {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	label := step
	if _, ok := registry[Step(step)]; !ok {
		label = "unknown"
	}
	attrs := metric.WithAttributes(attribute.String("step", label), attribute.String("outcome", outcome))
	if s.runs != nil {
		s.runs.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, subj subject.Subject, step string, payload json.RawMessage, o runOptions) (*Result, error) {
	if err := subj.Validate(); err != nil {
		return nil, &ValidationError{Step: Step(step), Fields: []FieldError{{Path: "subject", Message: err.Error()}}}
	}
	def, err := lookup(step)
	if err != nil {
		return nil, err
	}

	set := s.prompts.Current()
	instructions, ok := set.Step(string(def.name))
	if !ok {
		return nil, fmt.Errorf("no prompt instructions for step %s", def.name)
	}
	c, err := def.prepare(payload, set)
	if err != nil {
		return nil, err
	}
	policy, err := brandctx.PolicyFor(def.preset, s.cfg.Overrides[def.name].Merge(o.context))
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Admit(ctx, subj, def.category, s.cfg.Burst)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &DeniedError{Decision: decision}
	}

	block, err := s.contexts.Build(ctx, subj, policy)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System:      compose(set.RulesText(), block.Text, instructions, c.extra),
		Messages:    []llm.Message{c.message},
		Temperature: def.temperature,
		MaxTokens:   def.maxTokens,
	}
	raw, err := s.client.Complete(ctx, req)
	if err != nil {
		s.logger.Warn("completion failed",
			zap.String("step", step),
			zap.String("kind", string(llm.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	out, err := c.finish(raw)
	if err != nil {
		s.logger.Warn("malformed completion",
			zap.String("step", step),
			zap.Int("raw_len", len(raw)),
			zap.Error(err))
		return nil, &MalformedResponseError{Step: def.name, Reason: err.Error(), Raw: raw}
	}

	s.logger.Debug("pipeline step completed",
		zap.String("step", step),
		zap.Stringer("subject", subj),
		zap.Bool("context_empty", block.Empty()))

	return &Result{
		Step:         def.name,
		Terminal:     def.terminal,
		Output:       out,
		Admission:    decision,
		ContextEmpty: block.Empty(),
	}, nil
}

// Apply hands a result the caller decided to keep to the sink.
func (s *Service) Apply(ctx context.Context, subj subject.Subject, req ApplyRequest) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.apply", trace.WithAttributes(
		attribute.String("step", string(req.Step)),
	))
	defer span.End()

	if err := subj.Validate(); err != nil {
		return &ValidationError{Step: req.Step, Fields: []FieldError{{Path: "subject", Message: err.Error()}}}
	}
	if s.sink == nil {
		return ErrNoSink
	}
	if err := s.sink.Apply(ctx, subj, req); err != nil {
		if !IsValidation(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	return nil
}

func compose(rules, brand, instructions, extra string) string {
	parts := make([]string, 0, 4)
	if rules != "" {
		parts = append(parts, "# Writing rules\n\n"+rules)
	}
	parts = append(parts, "# Brand context\n\n"+strings.TrimSpace(brand))
	task := "# Task\n\n" + instructions
	if extra != "" {
		task += "\n\n" + extra
	}
	parts = append(parts, task)
	return strings.Join(parts, "\n\n")
}

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeDenied    = "denied"
	OutcomeMalformed = "malformed"
	OutcomeProvider  = "provider_error"
	OutcomeStore     = "store_error"
	OutcomeError     = "error"
)

// Outcome classifies a Run error for metrics and logs.
func Outcome(err error) string {
	var pe *llm.ProviderError
	switch {
	case err == nil:
		return OutcomeOK
	case IsValidation(err):
		return OutcomeInvalid
	case IsDenied(err):
		return OutcomeDenied
	case IsMalformed(err):
		return OutcomeMalformed
	case errors.As(err, &pe):
		return OutcomeProvider
	case records.IsStoreError(err), errors.Is(err, gate.ErrQuotaUnavailable):
		return OutcomeStore
	default:
		return OutcomeError
	}
}
