package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// Quota categories with default ceilings.
const (
	CategoryGeneration = "generation"
	CategoryRecycle    = "recycle"
	CategoryAudit      = "audit"
)

// Unlimited is reported as Limit and Remaining for unlimited tiers.
const Unlimited = -1

// ErrQuotaUnavailable is returned when the quota cannot be evaluated. The
// request is denied.
var ErrQuotaUnavailable = errors.New("quota unavailable")

// Counter persists monthly usage counts.
type Counter interface {
	// IncrementUsage adds one to the counter if it is below ceiling and
	// returns the resulting count. A negative ceiling means unlimited; zero
	// never allows.
	IncrementUsage(ctx context.Context, owner, category, period string, ceiling int) (count int, allowed bool, err error)

	// Usage returns all counters of owner in period.
	Usage(ctx context.Context, owner, period string) (map[string]int, error)
}

// Tier is a named set of monthly ceilings.
type Tier struct {
	Name      string
	Unlimited bool
	Limits    map[string]int
}

// Limit returns the ceiling for category. Categories absent from a limited
// tier are not allowed.
func (t Tier) Limit(category string) int {
	if t.Unlimited {
		return Unlimited
	}
	return t.Limits[category]
}

// Tiers indexes tiers by name.
type Tiers map[string]Tier

// TiersFromConfig converts configured tiers.
func TiersFromConfig(cfg map[string]config.TierConfig) Tiers {
	tiers := make(Tiers, len(cfg))
	for name, tc := range cfg {
		limits := make(map[string]int, len(tc.Limits))
		for k, v := range tc.Limits {
			limits[k] = v
		}
		tiers[name] = Tier{Name: name, Unlimited: tc.Unlimited, Limits: limits}
	}
	return tiers
}

// QuotaResult is the outcome of one quota check.
type QuotaResult struct {
	Allowed   bool
	Category  string
	Tier      string
	Used      int
	Limit     int
	Remaining int
	Message   string
}

// UsageReport summarizes one subject's usage for a period.
type UsageReport struct {
	Tier   string      `json:"tier"`
	Period string      `json:"period"`
	Items  []UsageItem `json:"items"`
}

// UsageItem is one category line of a UsageReport.
type UsageItem struct {
	Category  string `json:"category"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// QuotaOptions tune the plan cache.
type QuotaOptions struct {
	DefaultTier  string
	PlanCacheTTL time.Duration
	PlanCacheMax int
	Now          func() time.Time
}

// QuotaChecker enforces monthly per-tier ceilings.
type QuotaChecker struct {
	counter     Counter
	plans       records.Reader
	tiers       Tiers
	defaultTier string
	cache       *expirable.LRU[string, string]
	now         func() time.Time
	logger      *zap.Logger
}

// NewQuotaChecker creates a checker. plans is read for the plan record of
// each user; a missing record selects the default tier.
func NewQuotaChecker(counter Counter, plans records.Reader, tiers Tiers, opts QuotaOptions, logger *zap.Logger) (*QuotaChecker, error) {
	if counter == nil {
		return nil, errors.New("counter is required")
	}
	if plans == nil {
		return nil, errors.New("plan source is required")
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = "free"
	}
	if _, ok := tiers[opts.DefaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not defined", opts.DefaultTier)
	}
	if opts.PlanCacheTTL <= 0 {
		opts.PlanCacheTTL = time.Minute
	}
	if opts.PlanCacheMax <= 0 {
		opts.PlanCacheMax = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QuotaChecker{
		counter:     counter,
		plans:       plans,
		tiers:       tiers,
		defaultTier: opts.DefaultTier,
		cache:       expirable.NewLRU[string, string](opts.PlanCacheMax, nil, opts.PlanCacheTTL),
		now:         opts.Now,
		logger:      logger,
	}, nil
}

// Period returns the usage period key of t, in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Check debits one unit of category if the subject's tier allows it.
func (q *QuotaChecker) Check(ctx context.Context, s subject.Subject, category string) (QuotaResult, error) {
	tier, err := q.TierFor(ctx, s)
	if err != nil {
		return QuotaResult{}, err
	}

	// Unlimited tiers are counted with a negative ceiling.
	limit := tier.Limit(category)
	owner := s.OwnerKey(subject.CategoryUsage)
	count, allowed, err := q.counter.IncrementUsage(ctx, owner, category, Period(q.now()), limit)
	if err != nil {
		return QuotaResult{}, fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
	}

	result := QuotaResult{Category: category, Tier: tier.Name, Allowed: allowed, Used: count, Limit: limit}
	if limit == Unlimited {
		result.Remaining = Unlimited
	} else {
		result.Remaining = max(limit-count, 0)
	}
	if !allowed {
		result.Message = fmt.Sprintf("monthly %s limit reached (%d/%d) on the %s plan", category, count, limit, tier.Name)
	}
	return result, nil
}

// TierFor resolves the subject's plan tier. Plans are looked up by user id
// and cached.
func (q *QuotaChecker) TierFor(ctx context.Context, s subject.Subject) (Tier, error) {
	owner := s.OwnerKey(subject.CategoryPlan)
	if name, ok := q.cache.Get(owner); ok {
		PlanLookupsTotal.WithLabelValues("cache").Inc()
		return q.tier(name), nil
	}

	var plan records.Plan
	found, err := q.plans.GetRecord(ctx, owner, subject.CategoryPlan, &plan)
	if err != nil {
		return Tier{}, fmt.Errorf("%w: read plan: %w", ErrQuotaUnavailable, err)
	}

	name := q.defaultTier
	source := "default"
	if found && plan.Tier != "" {
		name = plan.Tier
		source = "store"
	}
	PlanLookupsTotal.WithLabelValues(source).Inc()
	q.cache.Add(owner, name)
	return q.tier(name), nil
}

func (q *QuotaChecker) tier(name string) Tier {
	if t, ok := q.tiers[name]; ok {
		return t
	}
	q.logger.Warn("unknown plan tier, using default",
		zap.String("tier", name),
		zap.String("default", q.defaultTier))
	return q.tiers[q.defaultTier]
}

// InvalidatePlan drops the cached tier of a user, typically after the plan
// record changed.
func (q *QuotaChecker) InvalidatePlan(userID string) {
	q.cache.Remove(userID)
}

// Usage reports the current period's counters against the subject's tier.
// Categories with a limit are always listed, used or not.
func (q *QuotaChecker) Usage(ctx context.Context, s subject.Subject) (*UsageReport, error) {
	tier, err := q.TierFor(ctx, s)
	if err != nil {
		return nil, err
	}
	period := Period(q.now())
	counts, err := q.counter.Usage(ctx, s.OwnerKey(subject.CategoryUsage), period)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
	}

	seen := make(map[string]bool)
	for c := range tier.Limits {
		seen[c] = true
	}
	for c := range counts {
		seen[c] = true
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	report := &UsageReport{Tier: tier.Name, Period: period, Items: make([]UsageItem, 0, len(categories))}
	for _, c := range categories {
		item := UsageItem{Category: c, Used: counts[c], Limit: tier.Limit(c)}
		if item.Limit == Unlimited {
			item.Remaining = Unlimited
		} else {
			item.Remaining = max(item.Limit-item.Used, 0)
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}
