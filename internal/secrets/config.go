package secrets

import (
	"fmt"
	"regexp"
)

// Verifier names a post-match check applied to a rule's matches.
const (
	VerifyNone = ""
	VerifyLuhn = "luhn"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// Rules defines the detection rules
	Rules []Rule `koanf:"rules"`

	// Redaction replaces each detected span (default: "[REDACTED]")
	Redaction string `koanf:"redaction"`

	// AllowList contains patterns whose matches are left in place
	AllowList []string `koanf:"allow_list"`

	// Gitleaks also runs the gitleaks default rule set after Rules.
	Gitleaks bool `koanf:"gitleaks"`

	compiled  []compiledRule
	allowList []*regexp.Regexp
}

// Rule defines one detection pattern.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`

	// Verify optionally filters matches, e.g. "luhn" for card numbers.
	Verify string `koanf:"verify"`
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
	verify  func(string) bool
}

// DefaultConfig returns a configuration with the built-in rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Redaction: "[REDACTED]",
		Rules:     DefaultRules(),
	}
}

// Validate compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Redaction == "" {
		c.Redaction = "[REDACTED]"
	}

	c.compiled = make([]compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := compiledRule{id: rule.ID, pattern: pattern}
		switch rule.Verify {
		case VerifyNone:
		case VerifyLuhn:
			cr.verify = luhnValid
		default:
			return fmt.Errorf("rule %s: unknown verifier %q", rule.ID, rule.Verify)
		}
		c.compiled = append(c.compiled, cr)
	}

	c.allowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.allowList = append(c.allowList, compiled)
	}
	return nil
}
