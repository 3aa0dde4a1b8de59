package records

import "github.com/fyrsmithlabs/copyd/internal/subject"

// NewRecord returns a pointer to an empty value of the type stored under
// category, for decoding. Usage counters and contents have their own tables
// and are not records.
func NewRecord(c subject.Category) (any, bool) {
	switch c {
	case subject.CategoryProfile:
		return &Profile{}, true
	case subject.CategoryStory:
		return &Story{}, true
	case subject.CategoryPersona:
		return &Persona{}, true
	case subject.CategoryBrandVoice:
		return &BrandVoice{}, true
	case subject.CategoryValueProposition:
		return &ValueProposition{}, true
	case subject.CategoryStrategy:
		return &ContentStrategy{}, true
	case subject.CategoryCalendar:
		return &Calendar{}, true
	case subject.CategoryOffers:
		return &Offers{}, true
	case subject.CategoryAudit:
		return &Audit{}, true
	case subject.CategoryVoiceProfile:
		return &VoiceProfile{}, true
	case subject.CategoryPlan:
		return &Plan{}, true
	default:
		return nil, false
	}
}
