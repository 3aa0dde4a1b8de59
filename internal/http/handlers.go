package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/logging"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// errPlanReadOnly rejects plan writes from account holders.
var errPlanReadOnly = errors.New("the plan record is managed by billing")

func validationError(field, msg string) error {
	return &pipeline.ValidationError{Fields: []pipeline.FieldError{{Path: field, Message: msg}}}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRunStep runs one pipeline step.
func (s *Server) handleRunStep(c echo.Context) error {
	var req StepRequest
	if err := decodeBody(c, &req); err != nil {
		return s.writeError(c, err)
	}

	var opts []pipeline.RunOption
	if len(req.Context) > 0 {
		override, err := brandctx.ParsePolicy(req.Context)
		if err != nil {
			return s.writeError(c, validationError("context", err.Error()))
		}
		opts = append(opts, pipeline.WithContextOverride(override))
	}

	step := c.Param("step")
	c.SetRequest(c.Request().WithContext(logging.WithStep(c.Request().Context(), step)))

	res, err := s.deps.Pipeline.Run(c.Request().Context(), subjectOf(c), step, req.Input, opts...)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, StepResponse{
		Step:         string(res.Step),
		Terminal:     res.Terminal,
		Result:       res.Output,
		Remaining:    res.Admission.Remaining,
		Limit:        res.Admission.Limit,
		ContextEmpty: res.ContextEmpty,
	})
}

// handleUsage reports the caller's usage for the current month.
func (s *Server) handleUsage(c echo.Context) error {
	report, err := s.deps.Usage.Usage(c.Request().Context(), subjectOf(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// handleContext previews the brand context a preset would send. It does not
// go through the gate.
func (s *Server) handleContext(c echo.Context) error {
	preset := c.QueryParam("preset")
	if preset == "" {
		preset = brandctx.PresetFull
	}
	override, err := policyFromQuery(c)
	if err != nil {
		return s.writeError(c, validationError("ctx", err.Error()))
	}
	policy, err := brandctx.PolicyFor(preset, override)
	if err != nil {
		return s.writeError(c, validationError("preset", err.Error()))
	}

	block, err := s.deps.Contexts.Build(c.Request().Context(), subjectOf(c), policy)
	if err != nil {
		return s.writeError(c, err)
	}
	sections := block.Sections
	if sections == nil {
		sections = []brandctx.Section{}
	}
	return c.JSON(http.StatusOK, ContextResponse{
		Preset:   preset,
		Toggles:  policy.Toggles(),
		Empty:    block.Empty(),
		Text:     block.Text,
		Sections: sections,
	})
}

// handlePutRecord replaces one profile record of the caller.
func (s *Server) handlePutRecord(c echo.Context) error {
	category, err := subject.ParseCategory(c.Param("category"))
	if err != nil {
		return s.writeError(c, validationError("category", err.Error()))
	}
	if category == subject.CategoryPlan {
		return c.JSON(http.StatusForbidden, ErrorResponse{Code: CodeValidation, Error: errPlanReadOnly.Error()})
	}
	record, ok := records.NewRecord(category)
	if !ok {
		return s.writeError(c, validationError("category", fmt.Sprintf("%q cannot be written", category)))
	}
	if err := decodeStrict(c, record); err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return s.writeError(c, err)
		}
		return s.writeError(c, validationError("", err.Error()))
	}

	subj := subjectOf(c)
	if err := s.deps.Records.PutRecord(c.Request().Context(), subj.OwnerKey(category), category, record); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleApply keeps a generated result under the id in the path.
func (s *Server) handleApply(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return s.writeError(c, validationError("id", "must be a UUID"))
	}
	var req pipeline.ApplyRequest
	if err := decodeBody(c, &req); err != nil {
		return s.writeError(c, err)
	}
	req.ID = id

	if err := s.deps.Pipeline.Apply(c.Request().Context(), subjectOf(c), req); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

// decodeBody binds the JSON body. Failures come back as validation errors,
// except an exceeded body limit which keeps its echo sentinel.
func decodeBody(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return echo.ErrStatusRequestEntityTooLarge
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return validationError("", fmt.Sprintf("invalid request body: %v", he.Message))
		}
		return validationError("", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// decodeStrict reads a JSON body and rejects unknown fields.
func decodeStrict(c echo.Context, dst any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
