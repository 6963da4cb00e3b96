package store

import (
	"context"
	"fmt"

	"github.com/mamdani-tracker/tracker/pkg/models"
)

// Helpers that dispatch on content kind so callers handling every kind
// (CMS handlers, CSV import) don't repeat the type switch.

// NewContent returns an empty row of the given kind
func NewContent(kind models.ContentKind) (models.Content, error) {
	switch kind {
	case models.KindPromise:
		return &models.Promise{}, nil
	case models.KindIndicator:
		return &models.Indicator{}, nil
	case models.KindTimeline:
		return &models.TimelineEntry{}, nil
	}
	return nil, fmt.Errorf("unknown content kind %q", kind)
}

// KindOf reports the kind of a content row
func KindOf(c models.Content) models.ContentKind {
	switch c.(type) {
	case *models.Promise:
		return models.KindPromise
	case *models.Indicator:
		return models.KindIndicator
	case *models.TimelineEntry:
		return models.KindTimeline
	}
	return ""
}

// SetIdentity assigns the id and slug of a content row
func SetIdentity(c models.Content, id, slug string) {
	switch v := c.(type) {
	case *models.Promise:
		v.ID, v.Slug = id, slug
	case *models.Indicator:
		v.ID, v.Slug = id, slug
	case *models.TimelineEntry:
		v.ID, v.Slug = id, slug
	}
}

// ValidateContent runs the kind's field validation
func ValidateContent(c models.Content) error {
	switch v := c.(type) {
	case *models.Promise:
		return v.Validate()
	case *models.Indicator:
		return v.Validate()
	case *models.TimelineEntry:
		return v.Validate()
	}
	return fmt.Errorf("unsupported content type %T", c)
}

// CreateContent inserts a row of any kind
func CreateContent(ctx context.Context, s Store, c models.Content) error {
	switch v := c.(type) {
	case *models.Promise:
		return s.CreatePromise(ctx, v)
	case *models.Indicator:
		return s.CreateIndicator(ctx, v)
	case *models.TimelineEntry:
		return s.CreateTimelineEntry(ctx, v)
	}
	return fmt.Errorf("unsupported content type %T", c)
}

// UpdateContent saves editable fields of a row of any kind
func UpdateContent(ctx context.Context, s Store, c models.Content) error {
	switch v := c.(type) {
	case *models.Promise:
		return s.UpdatePromise(ctx, v)
	case *models.Indicator:
		return s.UpdateIndicator(ctx, v)
	case *models.TimelineEntry:
		return s.UpdateTimelineEntry(ctx, v)
	}
	return fmt.Errorf("unsupported content type %T", c)
}

// GetContent loads one row by id
func GetContent(ctx context.Context, s Store, kind models.ContentKind, id string) (models.Content, error) {
	switch kind {
	case models.KindPromise:
		return s.GetPromise(ctx, id)
	case models.KindIndicator:
		return s.GetIndicator(ctx, id)
	case models.KindTimeline:
		return s.GetTimelineEntry(ctx, id)
	}
	return nil, fmt.Errorf("unknown content kind %q", kind)
}

// ListContent lists rows of one kind as the Content interface
func ListContent(ctx context.Context, s Store, kind models.ContentKind, f Filter) ([]models.Content, error) {
	var out []models.Content
	switch kind {
	case models.KindPromise:
		rows, err := s.ListPromises(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	case models.KindIndicator:
		rows, err := s.ListIndicators(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	case models.KindTimeline:
		rows, err := s.ListTimelineEntries(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	default:
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	return out, nil
}
