// Package gate decides whether a request may proceed: a short-window burst
// limiter per subject, then a monthly quota per plan tier and category.
//
// Admission happens before any context is loaded or any provider call is
// made. A quota unit consumed here is not refunded if the request later
// fails.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// Reason explains a denial.
type Reason string

// Denial reasons.
const (
	ReasonNone  Reason = ""
	ReasonBurst Reason = "burst"
	ReasonQuota Reason = "quota"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Category   string
	RetryAfter time.Duration
	Remaining  int
	Limit      int
	Message    string
}

// Gate composes the burst limiter and the quota checker.
type Gate struct {
	burst  *BurstLimiter
	quota  *QuotaChecker
	logger *zap.Logger
}

// New creates a Gate. Both parts are required.
func New(burst *BurstLimiter, quota *QuotaChecker, logger *zap.Logger) (*Gate, error) {
	if burst == nil {
		return nil, errors.New("burst limiter is required")
	}
	if quota == nil {
		return nil, errors.New("quota checker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{burst: burst, quota: quota, logger: logger}, nil
}

// Admit runs the burst check, then debits category when it is non-empty.
// Burst windows are keyed by user id so workspaces of one account share
// them. A quota that cannot be evaluated returns an error and no admission.
func (g *Gate) Admit(ctx context.Context, s subject.Subject, category string, policy BurstPolicy) (Decision, error) {
	if err := s.Validate(); err != nil {
		return Decision{}, err
	}

	if ok, retry := g.burst.Allow(s.UserID, policy); !ok {
		DecisionsTotal.WithLabelValues(string(ReasonBurst), category).Inc()
		g.logger.Info("request throttled",
			zap.String("subject", s.String()),
			zap.Duration("retry_after", retry))
		return Decision{
			Reason:     ReasonBurst,
			Category:   category,
			RetryAfter: retry,
			Message:    fmt.Sprintf("too many requests, retry in %ds", int(retry/time.Second)),
		}, nil
	}

	if category == "" {
		DecisionsTotal.WithLabelValues("allowed", "").Inc()
		return Decision{Allowed: true, Remaining: Unlimited, Limit: Unlimited}, nil
	}

	res, err := g.quota.Check(ctx, s, category)
	if err != nil {
		DecisionsTotal.WithLabelValues("error", category).Inc()
		g.logger.Error("quota check failed",
			zap.String("subject", s.String()),
			zap.String("category", category),
			zap.Error(err))
		return Decision{}, err
	}

	d := Decision{
		Allowed:   res.Allowed,
		Category:  category,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		Message:   res.Message,
	}
	if !res.Allowed {
		d.Reason = ReasonQuota
		DecisionsTotal.WithLabelValues(string(ReasonQuota), category).Inc()
		g.logger.Info("quota exhausted",
			zap.String("subject", s.String()),
			zap.String("category", category),
			zap.String("tier", res.Tier),
			zap.Int("used", res.Used))
		return d, nil
	}
	DecisionsTotal.WithLabelValues("allowed", category).Inc()
	return d, nil
}

// Usage reports the subject's usage for the current period.
func (g *Gate) Usage(ctx context.Context, s subject.Subject) (*UsageReport, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return g.quota.Usage(ctx, s)
}

// InvalidatePlan forgets the cached tier of a user.
func (g *Gate) InvalidatePlan(userID string) {
	g.quota.InvalidatePlan(userID)
}

// Start launches the burst limiter janitor.
func (g *Gate) Start(ctx context.Context) {
	g.burst.Start(ctx)
}

// Stop halts background work.
func (g *Gate) Stop() {
	g.burst.Stop()
}
