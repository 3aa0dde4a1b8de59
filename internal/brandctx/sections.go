package brandctx

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/copyd/internal/records"
)

// Section is one labeled part of a Block.
type Section struct {
	Name  Toggle `json:"name"`
	Label string `json:"label"`
	Body  string `json:"body"`
}

func (s Section) render() string {
	return "### " + s.Label + "\n" + s.Body
}

// builder renders one source, or reports false when it has nothing to say.
type builder func(snap *Snapshot, p Policy, lim limits) (Section, bool)

// builders run in canonical order.
var builders = []builder{
	profileSection,
	historySection,
	personaSection,
	brandVoiceSection,
	voiceProfileSection,
	valuePropositionSection,
	strategySection,
	calendarSection,
	offersSection,
	auditSection,
}

type field struct {
	label string
	value string
}

// renderFields writes one "Label: value" line per non-empty field. Each
// value is capped before it is written.
func renderFields(maxField int, fields ...field) string {
	var b strings.Builder
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(truncate(v, maxField))
	}
	return b.String()
}

func joinList(items []string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}

func section(name Toggle, label, body string) (Section, bool) {
	if strings.TrimSpace(body) == "" {
		return Section{}, false
	}
	return Section{Name: name, Label: label, Body: body}, true
}

func profileSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	pr := snap.Profile
	if !p.Enabled(ToggleProfile) || pr.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleProfile, "Profile", renderFields(lim.field,
		field{"Name", pr.FullName},
		field{"Company", pr.CompanyName},
		field{"Activity", pr.Activity},
		field{"Location", pr.Location},
		field{"Website", pr.Website},
		field{"Audience", pr.Audience},
	))
}

func historySection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	st := snap.Story
	if !p.Enabled(ToggleHistory) || st.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleHistory, "History", renderFields(lim.field,
		field{"Origin", st.Origin},
		field{"Turning point", st.TurningPoint},
		field{"Mission", st.Mission},
		field{"Values", st.Values},
		field{"Achievements", st.Achievements},
	))
}

func personaSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	pe := snap.Persona
	if !p.Enabled(TogglePersona) || pe.IsEmpty() {
		return Section{}, false
	}
	return section(TogglePersona, "Target persona", renderFields(lim.field,
		field{"Name", pe.Name},
		field{"Description", pe.Description},
		field{"Demographics", pe.Demographics},
		field{"Pain points", pe.PainPoints},
		field{"Desires", pe.Desires},
		field{"Objections", pe.Objections},
		field{"Their words", pe.Vocabulary},
	))
}

func brandVoiceSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	bv := snap.BrandVoice
	if !p.Enabled(ToggleBrandVoice) || bv.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleBrandVoice, "Brand voice", renderFields(lim.field,
		field{"Tone", bv.Tone},
		field{"Style", bv.Style},
		field{"Vocabulary", bv.Vocabulary},
		field{"Never use", bv.ForbiddenWords},
		field{"Examples", bv.Examples},
	))
}

func voiceProfileSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	vp := snap.VoiceProfile
	if !p.Enabled(ToggleVoiceProfile) || vp.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleVoiceProfile, "Personal voice", renderFields(lim.field,
		field{"Summary", vp.Summary},
		field{"Verbal tics", vp.VerbalTics},
		field{"Sentence style", vp.SentenceStyle},
		field{"Vocabulary", vp.Vocabulary},
		field{"Sample", vp.Sample},
	))
}

func valuePropositionSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	v := snap.ValueProposition
	if !p.Enabled(ToggleValueProposition) || v.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleValueProposition, "Value proposition", renderFields(lim.field,
		field{"Promise", v.Promise},
		field{"Differentiator", v.Differentiator},
		field{"Proof", v.Proof},
		field{"Transformation", v.Transformation},
	))
}

func strategySection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	cs := snap.Strategy
	if !p.Enabled(ToggleStrategy) || cs.IsEmpty() {
		return Section{}, false
	}
	return section(ToggleStrategy, "Content strategy", renderFields(lim.field,
		field{"Pillars", joinList(cs.Pillars)},
		field{"Objectives", cs.Objectives},
		field{"Platforms", joinList(cs.Platforms)},
		field{"Frequency", cs.Frequency},
	))
}

func calendarSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	if !p.Enabled(ToggleCalendar) || snap.Calendar.IsEmpty() {
		return Section{}, false
	}
	var lines []string
	for _, e := range snap.Calendar {
		if e.IsEmpty() {
			continue
		}
		if len(lines) == lim.items {
			break
		}
		line := "- " + joinList([]string{e.Date, truncate(e.Topic, lim.field)})
		if extra := joinList([]string{e.Format, e.Pillar, e.Status}); extra != "" {
			line += " (" + extra + ")"
		}
		lines = append(lines, line)
	}
	return section(ToggleCalendar, "Editorial calendar", strings.Join(lines, "\n"))
}

func offersSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	if !p.Enabled(ToggleOffers) || snap.Offers.IsEmpty() {
		return Section{}, false
	}
	detail := p.Enabled(ToggleOfferDetail)

	var blocks []string
	for _, o := range snap.Offers {
		if o.IsEmpty() {
			continue
		}
		if len(blocks) == lim.items {
			break
		}
		block := renderFields(lim.field,
			field{"Offer", o.Name},
			field{"Description", o.Description},
			field{"Price", o.Price},
			field{"Format", o.Format},
			field{"Promise", o.Promise},
		)
		if detail {
			block += renderOfferDetail(o, lim)
		}
		blocks = append(blocks, block)
	}
	return section(ToggleOffers, "Offers", strings.Join(blocks, "\n\n"))
}

func renderOfferDetail(o records.Offer, lim limits) string {
	var b strings.Builder
	for i, t := range o.Testimonials {
		if i == lim.items {
			break
		}
		if q := strings.TrimSpace(t.Quote); q != "" {
			author := strings.TrimSpace(t.Author)
			if author == "" {
				author = "client"
			}
			fmt.Fprintf(&b, "\n  - Testimonial (%s): %s", author, truncate(q, lim.field))
		}
	}
	for i, obj := range o.Objections {
		if i == lim.items {
			break
		}
		if q := strings.TrimSpace(obj.Objection); q != "" {
			fmt.Fprintf(&b, "\n  - Objection: %s", truncate(q, lim.field))
			if a := strings.TrimSpace(obj.Answer); a != "" {
				fmt.Fprintf(&b, " / Answer: %s", truncate(a, lim.field))
			}
		}
	}
	if benefits := joinList(o.Benefits); benefits != "" {
		fmt.Fprintf(&b, "\n  - Benefits: %s", truncate(benefits, lim.field))
	}
	return b.String()
}

func auditSection(snap *Snapshot, p Policy, lim limits) (Section, bool) {
	a := snap.Audit
	if !p.Enabled(ToggleAudit) || a.IsEmpty() {
		return Section{}, false
	}
	var score string
	if a.Score > 0 {
		score = fmt.Sprintf("%d/100", a.Score)
	}
	return section(ToggleAudit, "Last audit", renderFields(lim.field,
		field{"Date", a.Date},
		field{"Score", score},
		field{"Summary", a.Summary},
		field{"Strengths", joinList(a.Strengths)},
		field{"Weaknesses", joinList(a.Weaknesses)},
		field{"Recommendations", joinList(a.Recommendations)},
	))
}
