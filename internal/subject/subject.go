// Package subject identifies whose data a request reads and writes.
//
// A Subject is a primary identity (the user) plus an optional collective
// scope (the workspace). Record lookups resolve to an owner key: the
// workspace when one is present, except for identity-only categories which
// always resolve to the user.
package subject

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Category names a kind of stored record.
type Category string

const (
	CategoryProfile          Category = "profile"
	CategoryStory            Category = "story"
	CategoryPersona          Category = "persona"
	CategoryBrandVoice       Category = "brand_voice"
	CategoryValueProposition Category = "value_proposition"
	CategoryStrategy         Category = "content_strategy"
	CategoryCalendar         Category = "editorial_calendar"
	CategoryOffers           Category = "offers"
	CategoryAudit            Category = "last_audit"
	CategoryVoiceProfile     Category = "voice_profile"
	CategoryPlan             Category = "plan"
	CategoryUsage            Category = "usage"
	CategoryContent          Category = "content"
)

// identityOnly lists categories that belong to the person, not the workspace.
var identityOnly = map[Category]bool{
	CategoryVoiceProfile: true,
	CategoryPlan:         true,
	CategoryUsage:        true,
}

// Common errors.
var (
	ErrInvalidUserID      = errors.New("invalid user ID")
	ErrInvalidWorkspaceID = errors.New("invalid workspace ID")
	ErrUnknownCategory    = errors.New("unknown category")
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Subject is the identity/collective-scope pair a request acts for.
// It is derived per request and never persisted.
type Subject struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// New builds and validates a Subject.
func New(userID, workspaceID string) (Subject, error) {
	s := Subject{UserID: userID, WorkspaceID: workspaceID}
	if err := s.Validate(); err != nil {
		return Subject{}, err
	}
	return s, nil
}

// Scoped reports whether the subject acts inside a workspace.
func (s Subject) Scoped() bool {
	return s.WorkspaceID != ""
}

// OwnerKey returns the key records of the given category are stored under.
func (s Subject) OwnerKey(c Category) string {
	if s.Scoped() && !IdentityOnly(c) {
		return s.WorkspaceID
	}
	return s.UserID
}

// String renders the subject for logs and limiter keys.
func (s Subject) String() string {
	if s.Scoped() {
		return s.UserID + "@" + s.WorkspaceID
	}
	return s.UserID
}

// Validate checks identifier format.
func (s Subject) Validate() error {
	if err := validateID(s.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	if s.WorkspaceID != "" {
		if err := validateID(s.WorkspaceID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidWorkspaceID, err)
		}
	}
	return nil
}

// IdentityOnly reports whether records of c always key on the user.
func IdentityOnly(c Category) bool {
	return identityOnly[c]
}

// ParseCategory validates a category name from an external caller.
func ParseCategory(name string) (Category, error) {
	c := Category(name)
	switch c {
	case CategoryProfile, CategoryStory, CategoryPersona, CategoryBrandVoice,
		CategoryValueProposition, CategoryStrategy, CategoryCalendar,
		CategoryOffers, CategoryAudit, CategoryVoiceProfile, CategoryPlan:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

func validateID(id string) error {
	if id == "" {
		return errors.New("cannot be empty")
	}
	if !utf8.ValidString(id) {
		return errors.New("contains invalid UTF-8")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("exceeds max length %d", maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return errors.New("contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}
