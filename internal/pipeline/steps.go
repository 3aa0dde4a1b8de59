package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/llm"
	"github.com/fyrsmithlabs/copyd/internal/prompts"
)

// call is a validated step request ready for the provider.
type call struct {
	// extra is appended to the step instructions in the system prompt.
	extra   string
	message llm.Message
	// finish parses and shape-checks the provider text.
	finish func(raw string) (any, error)
}

type stepSpec struct {
	name        Step
	category    string
	preset      string
	terminal    bool
	temperature float64
	maxTokens   int
	prepare     func(payload json.RawMessage, set *prompts.Set) (*call, error)
}

var registry = map[Step]stepSpec{
	StepAngles: {
		name: StepAngles, preset: brandctx.PresetAngles,
		temperature: 0.9, maxTokens: 1500, prepare: prepareAngles,
	},
	StepQuestions: {
		name: StepQuestions, preset: brandctx.PresetQuestions,
		temperature: 0.7, maxTokens: 800, prepare: prepareQuestions,
	},
	StepFollowUp: {
		name: StepFollowUp, preset: brandctx.PresetFollowUp,
		temperature: 0.6, maxTokens: 600, prepare: prepareFollowUp,
	},
	StepGenerate: {
		name: StepGenerate, category: gate.CategoryGeneration, preset: brandctx.PresetGenerate,
		terminal: true, temperature: 0.8, maxTokens: 4000, prepare: prepareGenerate,
	},
	StepAdjust: {
		name: StepAdjust, preset: brandctx.PresetAdjust,
		terminal: true, temperature: 0.4, maxTokens: 4000, prepare: prepareAdjust,
	},
	StepRecycle: {
		name: StepRecycle, category: gate.CategoryRecycle, preset: brandctx.PresetRecycle,
		terminal: true, temperature: 0.8, maxTokens: 6000, prepare: prepareRecycle,
	},
	StepDictation: {
		name: StepDictation, category: gate.CategoryGeneration, preset: brandctx.PresetDictation,
		terminal: true, temperature: 0.3, maxTokens: 4000, prepare: prepareDictation,
	},
}

// Steps lists the pipeline steps in conversation order.
func Steps() []Step {
	return []Step{StepAngles, StepQuestions, StepFollowUp, StepGenerate, StepAdjust, StepRecycle, StepDictation}
}

// Category returns the quota category a step consumes, or "" when the step
// is only subject to the burst limit.
func Category(step Step) (string, bool) {
	def, ok := registry[step]
	return def.category, ok
}

func lookup(name string) (stepSpec, error) {
	def, ok := registry[Step(name)]
	if !ok {
		return stepSpec{}, &ValidationError{
			Step:   Step(name),
			Fields: []FieldError{{Path: "step", Message: fmt.Sprintf("%v %q", ErrUnknownStep, name)}},
		}
	}
	return def, nil
}

func userText(text string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: text}
}

func formatBlock(set *prompts.Set, name string) string {
	f, ok := set.Format(name)
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Format: %s (%s)\n", f.Label, name)
	if f.Length != "" {
		fmt.Fprintf(&b, "Length: %s\n", f.Length)
	}
	b.WriteString(strings.TrimSpace(f.Template))
	return b.String()
}

func writeAngle(b *strings.Builder, a Angle) {
	fmt.Fprintf(b, "Chosen angle: %s\n", a.Title)
	if a.Pitch != "" {
		fmt.Fprintf(b, "Pitch: %s\n", a.Pitch)
	}
	if len(a.Structure) > 0 {
		fmt.Fprintf(b, "Structure: %s\n", strings.Join(a.Structure, " > "))
	}
	if a.Tone != "" {
		fmt.Fprintf(b, "Tone: %s\n", a.Tone)
	}
}

func writeAnswers(b *strings.Builder, label string, answers []Answer) {
	if len(answers) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", label)
	for _, a := range answers {
		fmt.Fprintf(b, "Q: %s\nA: %s\n", a.Question, a.Answer)
	}
}

func prepareAngles(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in AnglesInput
	if err := decode(StepAngles, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	v.text("topic", in.Topic, maxTopic)
	v.format("contentType", in.ContentType, set)
	if err := v.result(StepAngles); err != nil {
		return nil, err
	}
	return &call{
		extra:   formatBlock(set, in.ContentType),
		message: userText(fmt.Sprintf("Topic: %s\nContent type: %s", in.Topic, in.ContentType)),
		finish:  finishAngles,
	}, nil
}

func prepareQuestions(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in QuestionsInput
	if err := decode(StepQuestions, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	v.angle("angle", in.Angle)
	if in.ContentType != "" {
		v.format("contentType", in.ContentType, set)
	}
	if err := v.result(StepQuestions); err != nil {
		return nil, err
	}
	var b strings.Builder
	writeAngle(&b, in.Angle)
	if in.ContentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", in.ContentType)
	}
	return &call{message: userText(b.String()), finish: finishQuestions}, nil
}

func prepareFollowUp(payload json.RawMessage, _ *prompts.Set) (*call, error) {
	var in FollowUpInput
	if err := decode(StepFollowUp, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	if in.Angle != nil {
		v.angle("angle", *in.Angle)
	}
	v.answers("answers", in.Answers, 1)
	if err := v.result(StepFollowUp); err != nil {
		return nil, err
	}
	var b strings.Builder
	if in.Angle != nil {
		writeAngle(&b, *in.Angle)
	}
	writeAnswers(&b, "Answers", in.Answers)
	return &call{message: userText(b.String()), finish: finishFollowUp}, nil
}

func prepareGenerate(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in GenerateInput
	if err := decode(StepGenerate, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	v.angle("angle", in.Angle)
	v.format("format", in.Format, set)
	v.answers("answers", in.Answers, 0)
	v.answers("followUpAnswers", in.FollowUpAnswers, 0)
	if err := v.result(StepGenerate); err != nil {
		return nil, err
	}
	var b strings.Builder
	writeAngle(&b, in.Angle)
	fmt.Fprintf(&b, "Format: %s\n", in.Format)
	writeAnswers(&b, "Answers", in.Answers)
	writeAnswers(&b, "Follow-up answers", in.FollowUpAnswers)
	return &call{
		extra:   formatBlock(set, in.Format),
		message: userText(b.String()),
		finish: func(raw string) (any, error) {
			return finishGenerate(raw, in.Format)
		},
	}, nil
}

func prepareAdjust(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in AdjustInput
	if err := decode(StepAdjust, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	v.text("draft.content", in.Draft.Content, maxLongText)
	v.optional("draft.accroche", in.Draft.Accroche, maxPitch)
	v.optional("draft.pillar", in.Draft.Pillar, maxShortText)
	v.optional("draft.objective", in.Draft.Objective, maxShortText)
	v.optional("draft.format", in.Draft.Format, maxShortText)
	v.text("instruction", in.Instruction, maxInstruction)
	if err := v.result(StepAdjust); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Current content:\n%s\n\nInstruction: %s", in.Draft.Content, in.Instruction)
	return &call{
		extra:   formatBlock(set, in.Draft.Format),
		message: userText(msg),
		finish: func(raw string) (any, error) {
			return finishAdjust(raw, in.Draft)
		},
	}, nil
}

func prepareRecycle(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in RecycleInput
	if err := decode(StepRecycle, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	switch {
	case in.SourceFile == nil && strings.TrimSpace(in.SourceContent) == "":
		v.add("sourceContent", "sourceContent or sourceFile is required")
	case in.SourceFile != nil && in.SourceContent != "":
		v.add("sourceFile", "give either sourceContent or sourceFile, not both")
	case in.SourceFile != nil:
		validateFile(&v, "sourceFile", in.SourceFile)
	default:
		v.optional("sourceContent", in.SourceContent, maxLongText)
	}
	v.count("targetFormats", len(in.TargetFormats), 1, maxTargets)
	seen := make(map[string]bool, len(in.TargetFormats))
	for i, f := range in.TargetFormats {
		path := fmt.Sprintf("targetFormats[%d]", i)
		v.format(path, f, set)
		if seen[f] {
			v.add(path, "duplicate format %q", f)
		}
		seen[f] = true
	}
	if err := v.result(StepRecycle); err != nil {
		return nil, err
	}

	blocks := make([]string, 0, len(in.TargetFormats))
	for _, f := range in.TargetFormats {
		blocks = append(blocks, formatBlock(set, f))
	}
	msg := userText("Target formats: " + strings.Join(in.TargetFormats, ", "))
	if in.SourceFile != nil {
		msg.Content += "\n\nThe source is the attached file."
		msg.Attachments = []llm.Attachment{{
			MIMEType: in.SourceFile.MIMEType,
			Data:     in.SourceFile.Data,
			Name:     in.SourceFile.Name,
		}}
	} else {
		msg.Content += "\n\nSource:\n" + in.SourceContent
	}
	targets := append([]string(nil), in.TargetFormats...)
	return &call{
		extra:   strings.Join(blocks, "\n\n"),
		message: msg,
		finish: func(raw string) (any, error) {
			return finishRecycle(raw, targets)
		},
	}, nil
}

func validateFile(v *validator, path string, f *SourceFile) {
	v.optional(path+".name", f.Name, maxShortText)
	if len(f.Data) == 0 {
		v.add(path+".data", "is required")
	} else if len(f.Data) > MaxFileBytes {
		v.add(path+".data", "must be at most %d bytes", MaxFileBytes)
	}
	a := llm.Attachment{MIMEType: f.MIMEType}
	if !a.IsImage() && !a.IsDocument() {
		v.add(path+".mimeType", "unsupported type %q", f.MIMEType)
	}
}

func prepareDictation(payload json.RawMessage, set *prompts.Set) (*call, error) {
	var in DictationInput
	if err := decode(StepDictation, payload, &in); err != nil {
		return nil, err
	}
	var v validator
	v.text("text", in.Text, maxLongText)
	v.format("targetFormat", in.TargetFormat, set)
	if err := v.result(StepDictation); err != nil {
		return nil, err
	}
	return &call{
		extra:   formatBlock(set, in.TargetFormat),
		message: userText("Dictated text:\n" + in.Text),
		finish:  finishContent,
	}, nil
}
