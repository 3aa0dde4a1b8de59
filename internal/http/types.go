package http

import (
	"encoding/json"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeUnauthenticated   = "unauthenticated"
	CodeValidation        = "validation_failed"
	CodeRateLimited       = "rate_limited"
	CodeQuotaExceeded     = "quota_exceeded"
	CodeMalformedResponse = "malformed_response"
	CodeProvider          = "provider_error"
	CodeUnavailable       = "unavailable"
	CodeTimeout           = "timeout"
	CodeConflict          = "conflict"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code       string                `json:"code"`
	Error      string                `json:"error"`
	Fields     []pipeline.FieldError `json:"fields,omitempty"`
	Category   string                `json:"category,omitempty"`
	RetryAfter int                   `json:"retry_after,omitempty"`
	Kind       string                `json:"kind,omitempty"`
	Raw        string                `json:"raw,omitempty"`
}

// StepRequest is the body of POST /api/v1/pipeline/:step. Input is the
// step payload; Context optionally toggles brand context sources.
type StepRequest struct {
	Input   json.RawMessage `json:"input"`
	Context map[string]bool `json:"context,omitempty"`
}

// StepResponse is the body of a successful step call.
type StepResponse struct {
	Step         string `json:"step"`
	Terminal     bool   `json:"terminal"`
	Result       any    `json:"result"`
	Remaining    int    `json:"remaining"`
	Limit        int    `json:"limit"`
	ContextEmpty bool   `json:"context_empty"`
}

// ContextResponse is the body of GET /api/v1/context.
type ContextResponse struct {
	Preset   string             `json:"preset"`
	Toggles  []brandctx.Toggle  `json:"toggles"`
	Empty    bool               `json:"empty"`
	Text     string             `json:"text"`
	Sections []brandctx.Section `json:"sections"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
