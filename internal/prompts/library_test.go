package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefaults(t *testing.T) {
	s := Defaults()

	for _, step := range []string{"angles", "questions", "follow-up", "generate", "adjust", "recycle", "dictation-transcribe"} {
		text, ok := s.Step(step)
		assert.True(t, ok, step)
		assert.Contains(t, text, "Respond only with JSON", step)
	}

	names := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"voice", "anti-patterns", "ethics"}, names)
	assert.NotEmpty(t, s.RulesText())

	f, ok := s.Format("linkedin-post")
	require.True(t, ok)
	assert.Equal(t, "LinkedIn post", f.Label)
	assert.NotEmpty(t, f.Template)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("stepz:\n  angles: x\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("rules:\n  - text: no name\n"))
	assert.Error(t, err)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Steps)
}

func writePrompts(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoad_OverrideMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, `
rules:
  - name: ethics
    text: Custom ethics.
  - name: locale
    text: Write in French.
formats:
  podcast-notes:
    label: Podcast notes
    template: Bullet list.
steps:
  adjust: Custom adjust instructions.
`)

	lib, err := Load(path, nil)
	require.NoError(t, err)
	s := lib.Current()

	adjust, _ := s.Step("adjust")
	assert.Equal(t, "Custom adjust instructions.", adjust)
	angles, ok := s.Step("angles")
	assert.True(t, ok)
	assert.Contains(t, angles, "exactly 3 angles")

	rules := s.RulesText()
	assert.Contains(t, rules, "Custom ethics.")
	assert.Contains(t, rules, "Write in French.")
	assert.NotContains(t, rules, "guaranteed outcomes")
	assert.True(t, strings.Index(rules, "Custom ethics.") < strings.Index(rules, "Write in French."))

	_, ok = s.Format("podcast-notes")
	assert.True(t, ok)
	_, ok = s.Format("newsletter")
	assert.True(t, ok)

	// Defaults are untouched by the merge.
	d, _ := Defaults().Step("adjust")
	assert.NotEqual(t, "Custom adjust instructions.", d)
}

func TestLoad_MissingOverride(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "steps:\n  adjust: v1\n")
	lib, err := Load(path, nil)
	require.NoError(t, err)

	writePrompts(t, path, "steps: [not, a, map\n")
	assert.Error(t, lib.Reload())
	adjust, _ := lib.Current().Step("adjust")
	assert.Equal(t, "v1", adjust)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "steps:\n  adjust: v1\n")
	lib, err := Load(path, nil)
	require.NoError(t, err)

	require.NoError(t, lib.Watch(context.Background()))
	require.NoError(t, lib.Watch(context.Background()))
	writePrompts(t, path, "steps:\n  adjust: v2\n")

	assert.Eventually(t, func() bool {
		adjust, _ := lib.Current().Step("adjust")
		return adjust == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	lib.Close()
	lib.Close()
}

func TestWatch_NoOverride(t *testing.T) {
	lib, err := Load("", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, lib.Watch(context.Background()), ErrNoOverride)
	lib.Close()
}
