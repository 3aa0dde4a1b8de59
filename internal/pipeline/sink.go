package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// ApplyRequest asks for a generated result to be kept under an explicit id.
type ApplyRequest struct {
	ID      string            `json:"id"`
	Step    Step              `json:"step"`
	Format  string            `json:"format,omitempty"`
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// ResultSink persists results the caller chose to keep. Applying the same
// request twice must leave the same state.
type ResultSink interface {
	Apply(ctx context.Context, s subject.Subject, req ApplyRequest) error
}

// StoreSink writes applied results to a content store.
type StoreSink struct {
	store records.ContentStore
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(store records.ContentStore) *StoreSink {
	return &StoreSink{store: store}
}

// Apply implements ResultSink.
func (k *StoreSink) Apply(ctx context.Context, s subject.Subject, req ApplyRequest) error {
	if err := validateApply(req); err != nil {
		return err
	}
	return k.store.SaveContent(ctx, &records.Content{
		ID:     req.ID,
		Owner:  s.OwnerKey(subject.CategoryContent),
		UserID: s.UserID,
		Step:   string(req.Step),
		Format: req.Format,
		Body:   req.Content,
		Meta:   req.Meta,
	})
}

func validateApply(req ApplyRequest) error {
	var v validator
	if _, err := uuid.Parse(req.ID); err != nil {
		v.add("id", "must be a UUID")
	}
	if def, ok := registry[req.Step]; !ok || !def.terminal {
		v.add("step", "%q does not produce content", req.Step)
	}
	v.optional("format", req.Format, maxShortText)
	v.text("content", req.Content, maxLongText)
	v.count("meta", len(req.Meta), 0, maxAnswers)
	for k, val := range req.Meta {
		v.optional(fmt.Sprintf("meta.%s", k), val, maxPitch)
	}
	return v.result(req.Step)
}

var _ ResultSink = (*StoreSink)(nil)
