package models

import (
	"errors"
	"testing"
)

func TestParsePromiseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    PromiseStatus
		wantErr bool
	}{
		{"", PromiseNotStarted, false},
		{"Not Started", PromiseNotStarted, false},
		{"in-progress", PromiseInProgress, false},
		{"  In   Progress ", PromiseInProgress, false},
		{"Partially fulfilled", PromisePartiallyFulfilled, false},
		{"KEPT", PromiseFulfilled, false},
		{"broken", PromiseBroken, false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePromiseStatus(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePromiseStatus(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePromiseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPromiseValidate(t *testing.T) {
	p := &Promise{Headline: "Free buses"}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != PromiseNotStarted {
		t.Errorf("expected default status not_started, got %s", p.Status)
	}
	if p.EditorialState != StateDraft {
		t.Errorf("expected default state draft, got %s", p.EditorialState)
	}

	bad := &Promise{Headline: "Rent freeze", Sources: []Source{{URL: "ftp://example.com"}}}
	err := bad.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "sources[0].url" {
		t.Errorf("expected field sources[0].url, got %s", verr.Field)
	}

	if err := (&Promise{}).Validate(); err == nil {
		t.Error("missing headline should fail")
	}
}

func TestTimelineEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   TimelineEntry
		wantErr bool
	}{
		{"valid", TimelineEntry{Title: "Inauguration", Day: 1, Date: "2026-01-01"}, false},
		{"day zero", TimelineEntry{Title: "x", Day: 0}, true},
		{"day 101", TimelineEntry{Title: "x", Day: 101}, true},
		{"bad date", TimelineEntry{Title: "x", Day: 5, Date: "01/05/2026"}, true},
		{"impossible date", TimelineEntry{Title: "x", Day: 5, Date: "2026-02-30"}, true},
		{"no title", TimelineEntry{Day: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveRelatedPromise(t *testing.T) {
	promises := []*Promise{
		{ID: "1", Headline: "Fast and Free Buses"},
		{ID: "2", Headline: "Rent freeze for stabilized tenants"},
	}

	if got := ResolveRelatedPromise("  fast and   free buses ", promises); got == nil || got.ID != "1" {
		t.Errorf("expected promise 1, got %v", got)
	}
	if got := ResolveRelatedPromise("", promises); got != nil {
		t.Errorf("empty reference should not match, got %v", got)
	}
	if got := ResolveRelatedPromise("City-owned grocery stores", promises); got != nil {
		t.Errorf("unexpected match %v", got)
	}
}

func TestRolePermissions(t *testing.T) {
	if !RoleAdmin.HasPermission(PermUserDelete) {
		t.Error("admin should manage users")
	}
	if RoleEditor.HasPermission(PermUserCreate) {
		t.Error("editor must not provision users")
	}
	if !RoleEditor.HasPermission(PermContentPublish) {
		t.Error("editor should publish")
	}
	if RoleViewer.HasPermission(PermContentWrite) {
		t.Error("viewer must be read-only")
	}
	if Role("owner").IsValid() {
		t.Error("unknown role should be invalid")
	}
}
