package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Result is the outcome of one Scrub call.
type Result struct {
	// Scrubbed is the content with secrets redacted
	Scrubbed string

	// Redacted is the number of matches removed
	Redacted int

	// ByRule counts matches per rule ID
	ByRule map[string]int
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return r.Redacted > 0
}

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

type scrubber struct {
	config *Config

	// gitleaks is nil unless Config.Gitleaks is set.
	gitleaks *detect.Detector
	mu       sync.Mutex
}

type span struct {
	start, end int
}

// New creates a Scrubber. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &scrubber{config: cfg}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.gitleaks = d
	}
	return s, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts every match of every rule. Overlapping matches collapse
// into one redaction.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.config.Enabled || content == "" {
		return result
	}

	var spans []span
	for _, rule := range s.config.compiled {
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			match := content[m[0]:m[1]]
			if s.isAllowed(match) {
				continue
			}
			if rule.verify != nil && !rule.verify(match) {
				continue
			}
			result.ByRule[rule.id]++
			result.Redacted++
			spans = append(spans, span{start: m[0], end: m[1]})
		}
	}
	spans = append(spans, s.gitleaksSpans(content, result)...)
	if len(spans) == 0 {
		return result
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := mergeSpans(spans)

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, s.config.Redaction...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	result.Scrubbed = string(out)
	return result
}

// gitleaksSpans locates every occurrence of each secret gitleaks reports.
func (s *scrubber) gitleaksSpans(content string, result *Result) []span {
	if s.gitleaks == nil {
		return nil
	}
	s.mu.Lock()
	findings := s.gitleaks.DetectString(content)
	s.mu.Unlock()

	var spans []span
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if f.Secret == "" || seen[f.Secret] || s.isAllowed(f.Secret) {
			continue
		}
		seen[f.Secret] = true
		for from := 0; ; {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, span{start: start, end: start + len(f.Secret)})
			result.ByRule["gitleaks:"+f.RuleID]++
			result.Redacted++
			from = start + len(f.Secret)
		}
	}
	return spans
}

func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.allowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans merges overlapping or adjacent spans. Input must be sorted by
// start.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

func (NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
