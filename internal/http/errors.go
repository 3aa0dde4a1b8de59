package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/llm"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// writeError maps a service error to a status code and an ErrorResponse.
func (s *Server) writeError(c echo.Context, err error) error {
	status, body := classify(err)
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) && c.Param("step") == string(pipeline.StepRecycle) {
		body.Fields = []pipeline.FieldError{{
			Path:    "sourceFile.data",
			Message: fmt.Sprintf("must be at most %d bytes", pipeline.MaxFileBytes),
		}}
	}
	if status == http.StatusTooManyRequests && body.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("route", c.Path()),
			zap.Int("status", status),
			zap.String("code", body.Code),
			zap.Error(err))
	}
	return c.JSON(status, body)
}

func classify(err error) (int, ErrorResponse) {
	var (
		verr      *pipeline.ValidationError
		denied    *pipeline.DeniedError
		malformed *pipeline.MalformedResponseError
		perr      *llm.ProviderError
	)
	resp := ErrorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, echo.ErrStatusRequestEntityTooLarge):
		resp.Code = CodeValidation
		resp.Error = "request body is too large"
		resp.Fields = []pipeline.FieldError{{Message: "request body is too large"}}
		return http.StatusBadRequest, resp

	case errors.As(err, &verr):
		resp.Code = CodeValidation
		resp.Fields = verr.Fields
		return http.StatusBadRequest, resp

	case errors.As(err, &denied):
		d := denied.Decision
		resp.Error = d.Message
		resp.Category = d.Category
		if d.Reason == gate.ReasonBurst {
			resp.Code = CodeRateLimited
			resp.RetryAfter = int(d.RetryAfter.Seconds())
			if resp.RetryAfter < 1 {
				resp.RetryAfter = 1
			}
			return http.StatusTooManyRequests, resp
		}
		resp.Code = CodeQuotaExceeded
		return http.StatusPaymentRequired, resp

	case errors.As(err, &malformed):
		resp.Code = CodeMalformedResponse
		resp.Raw = malformed.Raw
		return http.StatusBadGateway, resp

	case errors.As(err, &perr):
		resp.Kind = string(perr.Kind)
		switch perr.Kind {
		case llm.KindTimeout:
			resp.Code = CodeTimeout
			return http.StatusGatewayTimeout, resp
		case llm.KindRateLimited, llm.KindOverloaded:
			resp.Code = CodeUnavailable
			return http.StatusServiceUnavailable, resp
		case llm.KindUnsupportedAttachment:
			resp.Code = CodeValidation
			return http.StatusUnprocessableEntity, resp
		default:
			resp.Code = CodeProvider
			return http.StatusBadGateway, resp
		}

	case errors.Is(err, gate.ErrQuotaUnavailable), records.IsStoreError(err):
		resp.Code = CodeUnavailable
		resp.Error = "storage is unavailable"
		return http.StatusServiceUnavailable, resp

	case errors.Is(err, records.ErrOwnerMismatch):
		resp.Code = CodeConflict
		return http.StatusConflict, resp

	case errors.Is(err, records.ErrInvalidRecord),
		errors.Is(err, subject.ErrUnknownCategory),
		errors.Is(err, brandctx.ErrUnknownToggle),
		errors.Is(err, brandctx.ErrUnknownPreset):
		resp.Code = CodeValidation
		return http.StatusBadRequest, resp

	case errors.Is(err, context.DeadlineExceeded):
		resp.Code = CodeTimeout
		return http.StatusGatewayTimeout, resp

	default:
		resp.Code = CodeInternal
		resp.Error = "internal error"
		return http.StatusInternalServerError, resp
	}
}
