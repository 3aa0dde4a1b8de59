// Package prompts holds the prompt copy used by the generation pipeline:
// shared writing rules, per-format templates and per-step instructions.
//
// The copy is data. The pipeline passes it through unchanged and never
// interprets it. Defaults are compiled in; an override file can replace any
// part of them and is optionally reloaded when it changes.
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const maxOverrideSize = 1 << 20

// ErrNoOverride is returned by Watch when no override file is configured.
var ErrNoOverride = errors.New("no prompt override file configured")

// Rule is one named block of writing rules.
type Rule struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Format describes one output format.
type Format struct {
	Label    string `yaml:"label"`
	Length   string `yaml:"length"`
	Template string `yaml:"template"`
}

// Set is an immutable snapshot of the prompt library.
type Set struct {
	Rules   []Rule            `yaml:"rules"`
	Formats map[string]Format `yaml:"formats"`
	Steps   map[string]string `yaml:"steps"`
}

// Parse decodes a prompt document. Unknown keys are rejected.
func Parse(data []byte) (*Set, error) {
	var s Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	for i, r := range s.Rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
	}
	return &s, nil
}

// Defaults returns the compiled-in prompt set.
func Defaults() *Set {
	s, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return s
}

// RulesText joins all rule blocks in order.
func (s *Set) RulesText() string {
	parts := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Step returns the instructions of a pipeline step.
func (s *Set) Step(name string) (string, bool) {
	t, ok := s.Steps[name]
	return strings.TrimSpace(t), ok && strings.TrimSpace(t) != ""
}

// Format returns a format by key.
func (s *Set) Format(name string) (Format, bool) {
	f, ok := s.Formats[name]
	return f, ok
}

// FormatNames returns the known format keys.
func (s *Set) FormatNames() []string {
	names := make([]string, 0, len(s.Formats))
	for k := range s.Formats {
		names = append(names, k)
	}
	return names
}

// merge returns s with o applied: rules replace by name or append, formats
// and steps replace by key.
func (s *Set) merge(o *Set) *Set {
	out := &Set{
		Rules:   append([]Rule(nil), s.Rules...),
		Formats: make(map[string]Format, len(s.Formats)+len(o.Formats)),
		Steps:   make(map[string]string, len(s.Steps)+len(o.Steps)),
	}
	for k, v := range s.Formats {
		out.Formats[k] = v
	}
	for k, v := range s.Steps {
		out.Steps[k] = v
	}

	for _, r := range o.Rules {
		replaced := false
		for i := range out.Rules {
			if out.Rules[i].Name == r.Name {
				out.Rules[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			out.Rules = append(out.Rules, r)
		}
	}
	for k, v := range o.Formats {
		out.Formats[k] = v
	}
	for k, v := range o.Steps {
		out.Steps[k] = v
	}
	return out
}

// Library serves the current prompt set. Reloads swap the whole set
// atomically, so readers always see a consistent snapshot.
type Library struct {
	defaults *Set
	path     string
	current  atomic.Pointer[Set]
	logger   *zap.Logger

	mu     sync.Mutex
	cancel func()
	wg     sync.WaitGroup
}

// Load builds a library from the defaults plus the override file at path,
// if path is non-empty.
func Load(path string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Library{defaults: Defaults(), path: path, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the active prompt set.
func (l *Library) Current() *Set {
	return l.current.Load()
}

// Reload re-reads the override file. On error the active set is kept.
func (l *Library) Reload() error {
	if l.path == "" {
		l.current.Store(l.defaults)
		return nil
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("failed to stat prompt file: %w", err)
	}
	if info.Size() > maxOverrideSize {
		return fmt.Errorf("prompt file too large: %d bytes (max %d)", info.Size(), maxOverrideSize)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read prompt file: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return err
	}
	l.current.Store(l.defaults.merge(override))
	return nil
}
