package models

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    EditorialState
		to      EditorialState
		wantErr bool
	}{
		// Valid transitions
		{"Draft to Published", StateDraft, StatePublished, false},
		{"Published to Draft", StatePublished, StateDraft, false},

		// Invalid transitions
		{"Draft to Draft", StateDraft, StateDraft, true},
		{"Published to Published", StatePublished, StatePublished, true},
		{"Unknown source", EditorialState("archived"), StateDraft, true},
		{"Unknown target", StateDraft, EditorialState("archived"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestApplyTransition(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := Editorial{EditorialState: StateDraft}

	if err := e.ApplyTransition(StatePublished, now); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if e.EditorialState != StatePublished {
		t.Errorf("expected published, got %s", e.EditorialState)
	}
	if e.PublishedAt == nil || !e.PublishedAt.Equal(now) {
		t.Errorf("expected PublishedAt=%v, got %v", now, e.PublishedAt)
	}
	if !e.UpdatedAt.Equal(now) {
		t.Errorf("expected UpdatedAt=%v, got %v", now, e.UpdatedAt)
	}

	if err := e.ApplyTransition(StatePublished, now); err == nil {
		t.Error("publishing twice should fail")
	}

	later := now.Add(time.Hour)
	if err := e.ApplyTransition(StateDraft, later); err != nil {
		t.Fatalf("unpublish failed: %v", err)
	}
	if e.EditorialState.IsPublic() {
		t.Error("draft must not be public")
	}
	// PublishedAt keeps the last publication time
	if e.PublishedAt == nil || !e.PublishedAt.Equal(now) {
		t.Errorf("PublishedAt should be preserved, got %v", e.PublishedAt)
	}
}
