package brandctx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/copyd/internal/logging"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/secrets"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// memReader is an in-memory records.Reader keyed by owner/category.
type memReader struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  map[subject.Category]error
	reads []string
}

func newMemReader() *memReader {
	return &memReader{data: map[string][]byte{}, fail: map[subject.Category]error{}}
}

func (m *memReader) put(t *testing.T, owner string, c subject.Category, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	m.data[owner+"/"+string(c)] = b
}

func (m *memReader) GetRecord(_ context.Context, owner string, c subject.Category, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, owner+"/"+string(c))
	if err := m.fail[c]; err != nil {
		return false, err
	}
	b, ok := m.data[owner+"/"+string(c)]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func TestBuild_NoRecordsYieldsPlaceholder(t *testing.T) {
	agg := NewAggregator(newMemReader(), nil, Options{}, nil)

	block, err := agg.Build(context.Background(), subject.Subject{UserID: "new-user"}, presets[PresetFull])
	require.NoError(t, err)
	assert.True(t, block.Empty())
	assert.Equal(t, Placeholder, block.Text)
	assert.Empty(t, block.Sections)
}

func TestBuild_CanonicalOrder(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryAudit, records.Audit{Score: 70, Summary: "solid"})
	r.put(t, "u1", subject.CategoryOffers, records.Offers{{Name: "Coaching"}})
	r.put(t, "u1", subject.CategoryPersona, records.Persona{Name: "Claire"})
	r.put(t, "u1", subject.CategoryProfile, records.Profile{Activity: "coach"})
	r.put(t, "u1", subject.CategoryStory, records.Story{Origin: "left a bank job"})

	agg := NewAggregator(r, nil, Options{}, nil)
	block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, presets[PresetFull])
	require.NoError(t, err)

	var names []Toggle
	for _, s := range block.Sections {
		names = append(names, s.Name)
	}
	assert.Equal(t, []Toggle{ToggleProfile, ToggleHistory, TogglePersona, ToggleOffers, ToggleAudit}, names)

	profileAt := strings.Index(block.Text, "### Profile")
	auditAt := strings.Index(block.Text, "### Last audit")
	assert.True(t, profileAt >= 0 && auditAt > profileAt)
	assert.Contains(t, block.Text, "Activity: coach")
	assert.Contains(t, block.Text, "Score: 70/100")
}

func TestBuild_PolicyGatesReads(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryProfile, records.Profile{Activity: "coach"})
	r.put(t, "u1", subject.CategoryAudit, records.Audit{Summary: "weak hooks"})

	agg := NewAggregator(r, nil, Options{}, nil)
	block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, Policy{ToggleProfile: true})
	require.NoError(t, err)

	assert.NotContains(t, block.Text, "weak hooks")
	assert.Equal(t, []string{"u1/profile"}, r.reads)
	assert.Nil(t, block.Snapshot.Audit)
}

func TestBuild_EmptyRecordIsAbsent(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryPersona, records.Persona{Name: "   "})
	r.put(t, "u1", subject.CategoryCalendar, records.Calendar{})

	agg := NewAggregator(r, nil, Options{}, nil)
	block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, presets[PresetFull])
	require.NoError(t, err)
	assert.True(t, block.Empty())
	assert.Equal(t, Placeholder, block.Text)
}

func TestBuild_WorkspaceScoping(t *testing.T) {
	r := newMemReader()
	r.put(t, "ws1", subject.CategoryPersona, records.Persona{Name: "Team persona"})
	r.put(t, "u1", subject.CategoryPersona, records.Persona{Name: "Personal persona"})
	r.put(t, "u1", subject.CategoryVoiceProfile, records.VoiceProfile{Summary: "short punchy sentences"})
	r.put(t, "ws1", subject.CategoryVoiceProfile, records.VoiceProfile{Summary: "should never be read"})

	agg := NewAggregator(r, nil, Options{}, nil)
	s := subject.Subject{UserID: "u1", WorkspaceID: "ws1"}
	block, err := agg.Build(context.Background(), s, Policy{TogglePersona: true, ToggleVoiceProfile: true})
	require.NoError(t, err)

	assert.Contains(t, block.Text, "Team persona")
	assert.NotContains(t, block.Text, "Personal persona")
	assert.Contains(t, block.Text, "short punchy sentences")
	assert.NotContains(t, block.Text, "should never be read")
}

func TestBuild_ReadFailureIsSkipped(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryProfile, records.Profile{Activity: "coach"})
	r.put(t, "u1", subject.CategoryPersona, records.Persona{Name: "Claire"})
	r.fail[subject.CategoryPersona] = &records.StoreError{Op: "get record", Err: errors.New("disk I/O error")}

	logger := logging.NewTestLogger()
	agg := NewAggregator(r, nil, Options{}, logger.Underlying())
	block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, presets[PresetFull])
	require.NoError(t, err)

	assert.Contains(t, block.Text, "coach")
	assert.NotContains(t, block.Text, "Claire")
	assert.Equal(t, 1, logger.FilterMessage("context source unavailable").Len())
}

func TestBuild_CanceledContext(t *testing.T) {
	r := newMemReader()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.fail[subject.CategoryProfile] = context.Canceled

	agg := NewAggregator(r, nil, Options{}, nil)
	_, err := agg.Build(ctx, subject.Subject{UserID: "u1"}, Policy{ToggleProfile: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_NeverExceedsCap(t *testing.T) {
	huge := strings.Repeat("é", 5000)
	r := newMemReader()
	r.put(t, "u1", subject.CategoryProfile, records.Profile{FullName: huge, Activity: huge, Audience: huge})
	r.put(t, "u1", subject.CategoryStory, records.Story{Origin: huge, Mission: huge})
	r.put(t, "u1", subject.CategoryPersona, records.Persona{Description: huge, PainPoints: huge})
	r.put(t, "u1", subject.CategoryBrandVoice, records.BrandVoice{Tone: huge})
	r.put(t, "u1", subject.CategoryValueProposition, records.ValueProposition{Promise: huge})
	offers := make(records.Offers, 40)
	for i := range offers {
		offers[i] = records.Offer{Name: huge, Benefits: []string{huge, huge}}
	}
	r.put(t, "u1", subject.CategoryOffers, offers)

	caps := []Options{
		{},
		{MaxChars: 500, MaxSourceChars: 200, MaxFieldChars: 50},
		{MaxChars: 2, MaxSourceChars: 1, MaxFieldChars: 1},
	}
	for _, opts := range caps {
		agg := NewAggregator(r, nil, opts, nil)
		block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, presets[PresetFull])
		require.NoError(t, err)

		limit := opts.limits()
		assert.LessOrEqual(t, utf8.RuneCountInString(block.Text), limit.total)
		for _, s := range block.Sections {
			assert.LessOrEqual(t, utf8.RuneCountInString(s.Body), limit.source)
		}
		assert.True(t, utf8.ValidString(block.Text))
	}
}

func TestBuild_OfferDetail(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryOffers, records.Offers{{
		Name:         "Coaching",
		Testimonials: []records.Testimonial{{Author: "Lea", Quote: "Doubled my leads"}},
		Objections:   []records.Objection{{Objection: "Too expensive", Answer: "Pays for itself"}},
		Benefits:     []string{"clarity", "", "confidence"},
	}})
	agg := NewAggregator(r, nil, Options{}, nil)
	s := subject.Subject{UserID: "u1"}

	without, err := agg.Build(context.Background(), s, Policy{ToggleOffers: true})
	require.NoError(t, err)
	assert.Contains(t, without.Text, "Offer: Coaching")
	assert.NotContains(t, without.Text, "Doubled my leads")

	with, err := agg.Build(context.Background(), s, Policy{ToggleOffers: true, ToggleOfferDetail: true})
	require.NoError(t, err)
	assert.Contains(t, with.Text, "Testimonial (Lea): Doubled my leads")
	assert.Contains(t, with.Text, "Objection: Too expensive / Answer: Pays for itself")
	assert.Contains(t, with.Text, "Benefits: clarity, confidence")
}

func TestBuild_ScrubsSecrets(t *testing.T) {
	r := newMemReader()
	r.put(t, "u1", subject.CategoryProfile, records.Profile{
		Activity: "Coach. Card for invoices: 4242 4242 4242 4242",
	})
	agg := NewAggregator(r, secrets.MustNew(nil), Options{}, nil)
	block, err := agg.Build(context.Background(), subject.Subject{UserID: "u1"}, Policy{ToggleProfile: true})
	require.NoError(t, err)
	assert.NotContains(t, block.Text, "4242 4242")
	assert.Contains(t, block.Text, "[REDACTED]")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "éé...", truncate("éééééé", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestPolicy_Merge(t *testing.T) {
	tests := []struct {
		name     string
		base     Policy
		override Policy
		want     Policy
	}{
		{
			name:     "unnamed keys survive",
			base:     Policy{ToggleProfile: true, TogglePersona: true, ToggleOffers: true},
			override: Policy{ToggleOffers: false},
			want:     Policy{ToggleProfile: true, TogglePersona: true, ToggleOffers: false},
		},
		{
			name:     "override adds keys",
			base:     Policy{ToggleProfile: true},
			override: Policy{ToggleAudit: true},
			want:     Policy{ToggleProfile: true, ToggleAudit: true},
		},
		{
			name:     "explicit false on an unset key is kept",
			base:     Policy{ToggleProfile: true},
			override: Policy{ToggleCalendar: false},
			want:     Policy{ToggleProfile: true, ToggleCalendar: false},
		},
		{
			name: "nil override",
			base: Policy{ToggleProfile: true, ToggleHistory: false},
			want: Policy{ToggleProfile: true, ToggleHistory: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.base.Merge(tt.override))
		})
	}
}

func TestPolicy_MergeNilIsIndependentCopy(t *testing.T) {
	base := Policy{ToggleProfile: true}
	cp := base.Merge(nil)
	cp[ToggleProfile] = false
	cp[ToggleAudit] = true

	assert.True(t, base[ToggleProfile])
	_, ok := base[ToggleAudit]
	assert.False(t, ok)
}

func TestPolicyFor_PartialOverrideKeepsPreset(t *testing.T) {
	preset, ok := Preset(PresetGenerate)
	require.True(t, ok)

	got, err := PolicyFor(PresetGenerate, Policy{ToggleOffers: false, ToggleAudit: true})
	require.NoError(t, err)

	for toggle, enabled := range preset {
		if toggle == ToggleOffers {
			continue
		}
		assert.Equal(t, enabled, got.Enabled(toggle), toggle)
	}
	assert.False(t, got.Enabled(ToggleOffers))
	assert.True(t, got.Enabled(ToggleAudit))

	// The shared preset is untouched.
	again, _ := Preset(PresetGenerate)
	assert.True(t, again.Enabled(ToggleOffers))
	assert.False(t, again.Enabled(ToggleAudit))
}
