// Package brandctx assembles a subject's scattered profile records into one
// bounded text block for prompting.
//
// Which records are read is decided by a Policy of independent toggles;
// each generation use case has a named preset. Missing and empty records
// are skipped; a subject with no records at all gets Placeholder.
package brandctx

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/secrets"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// Placeholder replaces the block when no section has content. It is not an
// error condition.
const Placeholder = "The profile is mostly empty: no brand context is available yet. " +
	"Rely on the request itself and do not invent personal facts."

// Default limits, in runes.
const (
	DefaultMaxChars       = 8000
	DefaultMaxSourceChars = 2000
	DefaultMaxFieldChars  = 600
	DefaultMaxItems       = 10
)

// Options bound the rendered output.
type Options struct {
	// MaxChars caps the whole rendered block.
	MaxChars int
	// MaxSourceChars caps each section body.
	MaxSourceChars int
	// MaxFieldChars caps each raw field value before formatting.
	MaxFieldChars int
	// MaxItems caps list-valued sources (calendar entries, offers, and
	// offer sub-items).
	MaxItems int
}

type limits struct {
	total, source, field, items int
}

func (o Options) limits() limits {
	l := limits{
		total:  o.MaxChars,
		source: o.MaxSourceChars,
		field:  o.MaxFieldChars,
		items:  o.MaxItems,
	}
	if l.total <= 0 {
		l.total = DefaultMaxChars
	}
	if l.source <= 0 {
		l.source = DefaultMaxSourceChars
	}
	if l.field <= 0 {
		l.field = DefaultMaxFieldChars
	}
	if l.items <= 0 {
		l.items = DefaultMaxItems
	}
	return l
}

// Snapshot is the structured form of what was loaded, for callers that
// want fields rather than text. Nil or empty members were not loaded or
// not found.
type Snapshot struct {
	Profile          *records.Profile          `json:"profile,omitempty"`
	Story            *records.Story            `json:"story,omitempty"`
	Persona          *records.Persona          `json:"persona,omitempty"`
	BrandVoice       *records.BrandVoice       `json:"brand_voice,omitempty"`
	VoiceProfile     *records.VoiceProfile     `json:"voice_profile,omitempty"`
	ValueProposition *records.ValueProposition `json:"value_proposition,omitempty"`
	Strategy         *records.ContentStrategy  `json:"content_strategy,omitempty"`
	Calendar         records.Calendar          `json:"editorial_calendar,omitempty"`
	Offers           records.Offers            `json:"offers,omitempty"`
	Audit            *records.Audit            `json:"last_audit,omitempty"`
}

// Block is the rendered context.
type Block struct {
	Text     string    `json:"text"`
	Sections []Section `json:"sections"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Empty reports whether the block fell back to Placeholder.
func (b *Block) Empty() bool {
	return len(b.Sections) == 0
}

// Aggregator builds context blocks from a record reader.
type Aggregator struct {
	reader   records.Reader
	scrubber secrets.Scrubber
	opts     Options
	logger   *zap.Logger
}

// NewAggregator creates an Aggregator. A nil scrubber disables scrubbing; a
// nil logger discards logs.
func NewAggregator(reader records.Reader, scrubber secrets.Scrubber, opts Options, logger *zap.Logger) *Aggregator {
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		reader:   reader,
		scrubber: scrubber,
		opts:     opts,
		logger:   logger,
	}
}

// Build reads every enabled source concurrently and renders the block.
// Missing records and read failures are skipped; Build only fails when ctx
// is done.
func (a *Aggregator) Build(ctx context.Context, s subject.Subject, policy Policy) (*Block, error) {
	snap, err := a.load(ctx, s, policy)
	if err != nil {
		return nil, err
	}
	return a.Render(snap, policy), nil
}

// Render turns a snapshot into a block. It never reads the store.
func (a *Aggregator) Render(snap *Snapshot, policy Policy) *Block {
	lim := a.opts.limits()
	block := &Block{Snapshot: snap}

	parts := make([]string, 0, len(builders))
	for _, build := range builders {
		sec, ok := build(snap, policy, lim)
		if !ok {
			continue
		}
		sec.Body = truncate(a.scrub(sec.Body), lim.source)
		block.Sections = append(block.Sections, sec)
		parts = append(parts, sec.render())
	}

	if len(parts) == 0 {
		block.Text = truncate(Placeholder, lim.total)
		return block
	}
	block.Text = truncate(strings.Join(parts, "\n\n"), lim.total)
	return block
}

func (a *Aggregator) scrub(text string) string {
	res := a.scrubber.Scrub(text)
	if res.HasFindings() {
		a.logger.Warn("redacted secrets from context",
			zap.Int("count", res.Redacted),
			zap.Any("rules", res.ByRule))
	}
	return res.Scrubbed
}

func (a *Aggregator) load(ctx context.Context, s subject.Subject, policy Policy) (*Snapshot, error) {
	snap := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	// Each read owns exactly one Snapshot field; Wait publishes them.
	read := func(t Toggle, c subject.Category, dst any, keep func()) {
		if !policy.Enabled(t) {
			return
		}
		g.Go(func() error {
			found, err := a.reader.GetRecord(gctx, s.OwnerKey(c), c, dst)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn("context source unavailable",
					zap.String("subject", s.String()),
					zap.String("category", string(c)),
					zap.Error(err))
				return nil
			}
			if found {
				keep()
			}
			return nil
		})
	}

	var (
		profile  records.Profile
		story    records.Story
		persona  records.Persona
		voice    records.BrandVoice
		personal records.VoiceProfile
		proposal records.ValueProposition
		strategy records.ContentStrategy
		calendar records.Calendar
		offers   records.Offers
		audit    records.Audit
	)
	read(ToggleProfile, subject.CategoryProfile, &profile, func() { snap.Profile = &profile })
	read(ToggleHistory, subject.CategoryStory, &story, func() { snap.Story = &story })
	read(TogglePersona, subject.CategoryPersona, &persona, func() { snap.Persona = &persona })
	read(ToggleBrandVoice, subject.CategoryBrandVoice, &voice, func() { snap.BrandVoice = &voice })
	read(ToggleVoiceProfile, subject.CategoryVoiceProfile, &personal, func() { snap.VoiceProfile = &personal })
	read(ToggleValueProposition, subject.CategoryValueProposition, &proposal, func() { snap.ValueProposition = &proposal })
	read(ToggleStrategy, subject.CategoryStrategy, &strategy, func() { snap.Strategy = &strategy })
	read(ToggleCalendar, subject.CategoryCalendar, &calendar, func() { snap.Calendar = calendar })
	read(ToggleOffers, subject.CategoryOffers, &offers, func() { snap.Offers = offers })
	read(ToggleAudit, subject.CategoryAudit, &audit, func() { snap.Audit = &audit })

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// truncate caps s at limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
