package brandctx

import (
	"errors"
	"fmt"
	"sort"
)

// Toggle names one inclusion switch.
type Toggle string

const (
	ToggleProfile          Toggle = "profile"
	ToggleHistory          Toggle = "history"
	TogglePersona          Toggle = "persona"
	ToggleBrandVoice       Toggle = "brand_voice"
	ToggleVoiceProfile     Toggle = "voice_profile"
	ToggleValueProposition Toggle = "value_proposition"
	ToggleStrategy         Toggle = "strategy"
	ToggleCalendar         Toggle = "calendar"
	ToggleOffers           Toggle = "offers"
	ToggleOfferDetail      Toggle = "offer_detail"
	ToggleAudit            Toggle = "audit"
)

var allToggles = []Toggle{
	ToggleProfile, ToggleHistory, TogglePersona, ToggleBrandVoice,
	ToggleVoiceProfile, ToggleValueProposition, ToggleStrategy,
	ToggleCalendar, ToggleOffers, ToggleOfferDetail, ToggleAudit,
}

var (
	ErrUnknownToggle = errors.New("unknown context toggle")
	ErrUnknownPreset = errors.New("unknown context preset")
)

// Policy is a set of independent toggles. An unset toggle is off.
type Policy map[Toggle]bool

// Enabled reports whether t is on.
func (p Policy) Enabled(t Toggle) bool {
	return p[t]
}

// Merge returns a copy of p with every key of override applied. Keys not
// named in override keep their value from p.
func (p Policy) Merge(override Policy) Policy {
	out := make(Policy, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Toggles returns the enabled toggles in a stable order.
func (p Policy) Toggles() []Toggle {
	var on []Toggle
	for _, t := range allToggles {
		if p[t] {
			on = append(on, t)
		}
	}
	return on
}

// ParseToggle validates a toggle name.
func ParseToggle(name string) (Toggle, error) {
	for _, t := range allToggles {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownToggle, name)
}

// ParsePolicy converts caller-supplied toggles, rejecting unknown names.
func ParsePolicy(raw map[string]bool) (Policy, error) {
	p := make(Policy, len(raw))
	for name, on := range raw {
		t, err := ParseToggle(name)
		if err != nil {
			return nil, err
		}
		p[t] = on
	}
	return p, nil
}

func on(toggles ...Toggle) Policy {
	p := make(Policy, len(toggles))
	for _, t := range toggles {
		p[t] = true
	}
	return p
}

// Preset names, one per generation use case.
const (
	PresetAngles    = "angles"
	PresetQuestions = "questions"
	PresetFollowUp  = "follow-up"
	PresetGenerate  = "generate"
	PresetAdjust    = "adjust"
	PresetRecycle   = "recycle"
	PresetDictation = "dictation"
	PresetFull      = "full"
)

var presets = map[string]Policy{
	PresetAngles: on(ToggleProfile, ToggleHistory, TogglePersona,
		ToggleValueProposition, ToggleStrategy, ToggleOffers),
	PresetQuestions: on(ToggleProfile, ToggleHistory, TogglePersona, ToggleOffers),
	PresetFollowUp:  on(ToggleProfile, TogglePersona),
	PresetGenerate: on(ToggleProfile, ToggleHistory, TogglePersona, ToggleBrandVoice,
		ToggleVoiceProfile, ToggleValueProposition, ToggleStrategy, ToggleOffers, ToggleOfferDetail),
	PresetAdjust: on(ToggleProfile, ToggleBrandVoice, ToggleVoiceProfile),
	PresetRecycle: on(ToggleProfile, TogglePersona, ToggleBrandVoice,
		ToggleVoiceProfile, ToggleStrategy),
	PresetDictation: on(ToggleProfile, ToggleBrandVoice, ToggleVoiceProfile),
	PresetFull:      on(allToggles...),
}

// Preset returns a copy of the named default policy.
func Preset(name string) (Policy, bool) {
	p, ok := presets[name]
	if !ok {
		return nil, false
	}
	return p.Merge(nil), true
}

// PolicyFor resolves a named preset and applies override on top of it.
func PolicyFor(name string, override Policy) (Policy, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p.Merge(override), nil
}

// Presets lists preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
