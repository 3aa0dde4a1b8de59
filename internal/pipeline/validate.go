package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/copyd/internal/prompts"
)

// MaxFileBytes caps a decoded attachment.
const MaxFileBytes = 10 << 20

// Input limits, in characters unless noted.
const (
	maxShortText   = 200
	maxTopic       = 500
	maxPitch       = 1000
	maxQuestion    = 500
	maxAnswer      = 5000
	maxInstruction = 1000
	maxLongText    = 20000
	maxAnswers     = 10
	maxStructure   = 10
	maxTargets     = 5
)

type validator struct {
	fields []FieldError
}

func (v *validator) add(path, format string, args ...any) {
	v.fields = append(v.fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// text checks a required string.
func (v *validator) text(path, value string, max int) {
	if strings.TrimSpace(value) == "" {
		v.add(path, "is required")
		return
	}
	v.optional(path, value, max)
}

// optional checks the length of a string that may be empty.
func (v *validator) optional(path, value string, max int) {
	if n := utf8.RuneCountInString(value); n > max {
		v.add(path, "must be at most %d characters, got %d", max, n)
	}
}

func (v *validator) count(path string, n, min, max int) {
	switch {
	case n < min:
		v.add(path, "must have at least %d items", min)
	case n > max:
		v.add(path, "must have at most %d items", max)
	}
}

func (v *validator) format(path, name string, set *prompts.Set) {
	if strings.TrimSpace(name) == "" {
		v.add(path, "is required")
		return
	}
	if _, ok := set.Format(name); !ok {
		v.add(path, "unknown format %q", name)
	}
}

func (v *validator) angle(path string, a Angle) {
	v.text(path+".title", a.Title, maxShortText)
	v.optional(path+".pitch", a.Pitch, maxPitch)
	v.optional(path+".tone", a.Tone, maxShortText)
	v.count(path+".structure", len(a.Structure), 0, maxStructure)
	for i, s := range a.Structure {
		v.optional(fmt.Sprintf("%s.structure[%d]", path, i), s, maxShortText)
	}
}

func (v *validator) answers(path string, answers []Answer, min int) {
	v.count(path, len(answers), min, maxAnswers)
	for i, a := range answers {
		p := fmt.Sprintf("%s[%d]", path, i)
		v.text(p+".question", a.Question, maxQuestion)
		v.optional(p+".answer", a.Answer, maxAnswer)
	}
}

func (v *validator) result(step Step) error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: v.fields}
}

// decode reads payload into dst, rejecting unknown fields.
func decode(step Step, payload json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return &ValidationError{Step: step, Fields: []FieldError{{Message: "payload is required"}}}
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Step: step, Fields: []FieldError{{Message: "invalid JSON: " + err.Error()}}}
	}
	return nil
}
