package records

import (
	"strings"
	"time"
)

// Profile is the account-level business identity.
type Profile struct {
	FullName    string `json:"full_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Activity    string `json:"activity,omitempty"`
	Location    string `json:"location,omitempty"`
	Website     string `json:"website,omitempty"`
	Audience    string `json:"audience,omitempty"`
}

// IsEmpty reports whether no field carries content.
func (p *Profile) IsEmpty() bool {
	return p == nil || allBlank(p.FullName, p.CompanyName, p.Activity, p.Location, p.Website, p.Audience)
}

// Story is the founder/brand history.
type Story struct {
	Origin       string `json:"origin,omitempty"`
	TurningPoint string `json:"turning_point,omitempty"`
	Mission      string `json:"mission,omitempty"`
	Values       string `json:"values,omitempty"`
	Achievements string `json:"achievements,omitempty"`
}

func (s *Story) IsEmpty() bool {
	return s == nil || allBlank(s.Origin, s.TurningPoint, s.Mission, s.Values, s.Achievements)
}

// Persona is the target customer description.
type Persona struct {
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Demographics string `json:"demographics,omitempty"`
	PainPoints   string `json:"pain_points,omitempty"`
	Desires      string `json:"desires,omitempty"`
	Objections   string `json:"objections,omitempty"`
	Vocabulary   string `json:"vocabulary,omitempty"`
}

func (p *Persona) IsEmpty() bool {
	return p == nil || allBlank(p.Name, p.Description, p.Demographics, p.PainPoints, p.Desires, p.Objections, p.Vocabulary)
}

// BrandVoice is the workspace-wide tone guide.
type BrandVoice struct {
	Tone           string `json:"tone,omitempty"`
	Style          string `json:"style,omitempty"`
	Vocabulary     string `json:"vocabulary,omitempty"`
	ForbiddenWords string `json:"forbidden_words,omitempty"`
	Examples       string `json:"examples,omitempty"`
}

func (b *BrandVoice) IsEmpty() bool {
	return b == nil || allBlank(b.Tone, b.Style, b.Vocabulary, b.ForbiddenWords, b.Examples)
}

// ValueProposition states what the business promises and why it is credible.
type ValueProposition struct {
	Promise        string `json:"promise,omitempty"`
	Differentiator string `json:"differentiator,omitempty"`
	Proof          string `json:"proof,omitempty"`
	Transformation string `json:"transformation,omitempty"`
}

func (v *ValueProposition) IsEmpty() bool {
	return v == nil || allBlank(v.Promise, v.Differentiator, v.Proof, v.Transformation)
}

// ContentStrategy lists editorial pillars and goals.
type ContentStrategy struct {
	Pillars    []string `json:"pillars,omitempty"`
	Objectives string   `json:"objectives,omitempty"`
	Platforms  []string `json:"platforms,omitempty"`
	Frequency  string   `json:"frequency,omitempty"`
}

func (c *ContentStrategy) IsEmpty() bool {
	return c == nil || (allBlank(c.Objectives, c.Frequency) && allBlank(c.Pillars...) && allBlank(c.Platforms...))
}

// CalendarEntry is one planned publication.
type CalendarEntry struct {
	Date   string `json:"date,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Format string `json:"format,omitempty"`
	Pillar string `json:"pillar,omitempty"`
	Status string `json:"status,omitempty"`
}

func (e CalendarEntry) IsEmpty() bool {
	return allBlank(e.Date, e.Topic, e.Format, e.Pillar, e.Status)
}

// Calendar is the editorial calendar, stored as one list record.
type Calendar []CalendarEntry

func (c Calendar) IsEmpty() bool {
	for _, e := range c {
		if !e.IsEmpty() {
			return false
		}
	}
	return true
}

// Testimonial is a customer quote attached to an offer.
type Testimonial struct {
	Author string `json:"author,omitempty"`
	Quote  string `json:"quote,omitempty"`
}

// Objection is a sales objection with its prepared answer.
type Objection struct {
	Objection string `json:"objection,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

// Offer is one product or service in the catalog.
type Offer struct {
	Name         string        `json:"name,omitempty"`
	Description  string        `json:"description,omitempty"`
	Price        string        `json:"price,omitempty"`
	Format       string        `json:"format,omitempty"`
	Promise      string        `json:"promise,omitempty"`
	Testimonials []Testimonial `json:"testimonials,omitempty"`
	Objections   []Objection   `json:"objections,omitempty"`
	Benefits     []string      `json:"benefits,omitempty"`
}

// IsEmpty ignores detail sub-items: an offer with only testimonials has no
// headline to hang them on.
func (o Offer) IsEmpty() bool {
	return allBlank(o.Name, o.Description, o.Price, o.Format, o.Promise)
}

// Offers is the offer catalog, stored as one list record.
type Offers []Offer

func (o Offers) IsEmpty() bool {
	for _, offer := range o {
		if !offer.IsEmpty() {
			return false
		}
	}
	return true
}

// Audit is the most recent profile/content audit.
type Audit struct {
	Score           int      `json:"score,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Strengths       []string `json:"strengths,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Date            string   `json:"date,omitempty"`
}

func (a *Audit) IsEmpty() bool {
	return a == nil || (a.Score == 0 && allBlank(a.Summary, a.Date) &&
		allBlank(a.Strengths...) && allBlank(a.Weaknesses...) && allBlank(a.Recommendations...))
}

// VoiceProfile describes how one person writes and speaks. It is always
// stored against the user, never the workspace.
type VoiceProfile struct {
	Summary       string `json:"summary,omitempty"`
	VerbalTics    string `json:"verbal_tics,omitempty"`
	SentenceStyle string `json:"sentence_style,omitempty"`
	Vocabulary    string `json:"vocabulary,omitempty"`
	Sample        string `json:"sample,omitempty"`
}

func (v *VoiceProfile) IsEmpty() bool {
	return v == nil || allBlank(v.Summary, v.VerbalTics, v.SentenceStyle, v.Vocabulary, v.Sample)
}

// Plan is the billing tier of an account.
type Plan struct {
	Tier      string    `json:"tier"`
	RenewedAt time.Time `json:"renewed_at,omitempty"`
}

// Content is a generated result the caller chose to keep.
type Content struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	UserID    string            `json:"user_id"`
	Step      string            `json:"step"`
	Format    string            `json:"format,omitempty"`
	Body      string            `json:"body"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func allBlank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
