package pipeline

import "github.com/fyrsmithlabs/copyd/internal/gate"

// Step names one stage of the generation conversation.
type Step string

const (
	StepAngles    Step = "angles"
	StepQuestions Step = "questions"
	StepFollowUp  Step = "follow-up"
	StepGenerate  Step = "generate"
	StepAdjust    Step = "adjust"
	StepRecycle   Step = "recycle"
	StepDictation Step = "dictation-transcribe"
)

// Angle is one proposed narrative approach.
type Angle struct {
	Title     string   `json:"title"`
	Pitch     string   `json:"pitch"`
	Structure []string `json:"structure"`
	Tone      string   `json:"tone"`
}

// Answer pairs a question with the author's answer.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Question is an open prompt with an example of the expected answer.
type Question struct {
	Question    string `json:"question"`
	Placeholder string `json:"placeholder"`
}

// FollowUpQuestion adds the reason the question is worth asking.
type FollowUpQuestion struct {
	Question    string `json:"question"`
	Placeholder string `json:"placeholder"`
	Why         string `json:"why"`
}

// Draft is finished content as returned by generate and adjust.
type Draft struct {
	Content   string `json:"content"`
	Accroche  string `json:"accroche"`
	Format    string `json:"format"`
	Pillar    string `json:"pillar"`
	Objective string `json:"objective"`
}

// SourceFile is a binary recycle source. Data is base64 in JSON.
type SourceFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Step inputs. Every prior-step artifact is resent by the caller.
type (
	AnglesInput struct {
		Topic       string `json:"topic"`
		ContentType string `json:"contentType"`
	}

	QuestionsInput struct {
		Angle       Angle  `json:"angle"`
		ContentType string `json:"contentType,omitempty"`
	}

	FollowUpInput struct {
		Angle   *Angle   `json:"angle,omitempty"`
		Answers []Answer `json:"answers"`
	}

	GenerateInput struct {
		Angle           Angle    `json:"angle"`
		Format          string   `json:"format"`
		Answers         []Answer `json:"answers"`
		FollowUpAnswers []Answer `json:"followUpAnswers,omitempty"`
	}

	AdjustInput struct {
		Draft       Draft  `json:"draft"`
		Instruction string `json:"instruction"`
	}

	RecycleInput struct {
		SourceContent string      `json:"sourceContent,omitempty"`
		SourceFile    *SourceFile `json:"sourceFile,omitempty"`
		TargetFormats []string    `json:"targetFormats"`
	}

	DictationInput struct {
		Text         string `json:"text"`
		TargetFormat string `json:"targetFormat"`
	}
)

// Step outputs.
type (
	AnglesResult struct {
		Angles []Angle `json:"angles"`
	}

	QuestionsResult struct {
		Questions []Question `json:"questions"`
	}

	FollowUpResult struct {
		FollowUpQuestions []FollowUpQuestion `json:"followUpQuestions"`
	}

	RecycleResult struct {
		Results map[string]string `json:"results"`
	}

	ContentResult struct {
		Content string `json:"content"`
	}
)

// Result is the outcome of one successful step call.
type Result struct {
	Step     Step
	Terminal bool
	// Output is one of the step result types above.
	Output any
	// Admission is the gate decision that let the call through.
	Admission gate.Decision
	// ContextEmpty is set when no brand context was available.
	ContextEmpty bool
}
