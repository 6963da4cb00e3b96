package models

import (
	"errors"
	"fmt"
	"time"
)

// EditorialState gates whether a content row is visible on public pages
type EditorialState string

const (
	StateDraft     EditorialState = "draft"     // Only visible in the CMS
	StatePublished EditorialState = "published" // Visible on public pages
)

var ErrInvalidTransition = errors.New("invalid editorial transition")

// validTransitions maps from-state to allowed to-states
var validTransitions = map[EditorialState]map[EditorialState]bool{
	StateDraft: {
		StatePublished: true, // Draft → Published (publish)
	},
	StatePublished: {
		StateDraft: true, // Published → Draft (unpublish)
	},
}

// ValidateTransition checks if an editorial state transition is valid
func ValidateTransition(from, to EditorialState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsValid reports whether s is a known editorial state
func (s EditorialState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsPublic reports whether content in this state may be shown to visitors
func (s EditorialState) IsPublic() bool {
	return s == StatePublished
}

// Editorial holds the fields every CMS-managed row carries
type Editorial struct {
	EditorialState EditorialState `json:"editorial_state"`
	DisplayOrder   int            `json:"display_order"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
}

// ApplyTransition moves the row to the given state and stamps timestamps.
// The caller is responsible for persisting the change.
func (e *Editorial) ApplyTransition(to EditorialState, now time.Time) error {
	if err := ValidateTransition(e.EditorialState, to); err != nil {
		return err
	}
	e.EditorialState = to
	e.UpdatedAt = now
	if to == StatePublished {
		e.PublishedAt = &now
	}
	return nil
}

// Meta returns the editorial block so content types satisfy Content
func (e *Editorial) Meta() *Editorial {
	return e
}
