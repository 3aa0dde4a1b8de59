package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

const (
	angleCount       = 3
	questionCount    = 3
	maxFollowUpCount = 2
)

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func finishAngles(raw string) (any, error) {
	var out AnglesResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if len(out.Angles) < angleCount {
		return nil, fmt.Errorf("expected %d angles, got %d", angleCount, len(out.Angles))
	}
	out.Angles = out.Angles[:angleCount]
	for i, a := range out.Angles {
		if blank(a.Title) || blank(a.Pitch) || blank(a.Tone) || len(a.Structure) == 0 {
			return nil, fmt.Errorf("angle %d is incomplete", i)
		}
	}
	return &out, nil
}

func finishQuestions(raw string) (any, error) {
	var out QuestionsResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if len(out.Questions) < questionCount {
		return nil, fmt.Errorf("expected %d questions, got %d", questionCount, len(out.Questions))
	}
	out.Questions = out.Questions[:questionCount]
	for i, q := range out.Questions {
		if blank(q.Question) {
			return nil, fmt.Errorf("question %d is empty", i)
		}
	}
	return &out, nil
}

// finishFollowUp accepts an empty list: nothing distinctive is a valid answer.
func finishFollowUp(raw string) (any, error) {
	var out FollowUpResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if len(out.FollowUpQuestions) > maxFollowUpCount {
		out.FollowUpQuestions = out.FollowUpQuestions[:maxFollowUpCount]
	}
	if out.FollowUpQuestions == nil {
		out.FollowUpQuestions = []FollowUpQuestion{}
	}
	for i, q := range out.FollowUpQuestions {
		if blank(q.Question) {
			return nil, fmt.Errorf("follow-up question %d is empty", i)
		}
	}
	return &out, nil
}

func finishGenerate(raw, format string) (any, error) {
	var out Draft
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if blank(out.Content) {
		return nil, errors.New("content is empty")
	}
	if blank(out.Accroche) {
		return nil, errors.New("accroche is empty")
	}
	if blank(out.Format) {
		out.Format = format
	}
	return &out, nil
}

// finishAdjust keeps every field of the draft except the content.
func finishAdjust(raw string, draft Draft) (any, error) {
	var out ContentResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if blank(out.Content) {
		return nil, errors.New("content is empty")
	}
	draft.Content = out.Content
	return &draft, nil
}

func finishRecycle(raw string, targets []string) (any, error) {
	var out RecycleResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	results := make(map[string]string, len(targets))
	seen := make(map[string]string, len(targets))
	for _, f := range targets {
		text, ok := out.Results[f]
		if !ok || blank(text) {
			return nil, fmt.Errorf("missing result for format %q", f)
		}
		key := strings.TrimSpace(text)
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("formats %q and %q have identical content", other, f)
		}
		seen[key] = f
		results[f] = text
	}
	return &RecycleResult{Results: results}, nil
}

func finishContent(raw string) (any, error) {
	var out ContentResult
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	if blank(out.Content) {
		return nil, errors.New("content is empty")
	}
	return &out, nil
}
