package csvimport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mamdani-tracker/tracker/pkg/logging"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/slug"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

// Options control how parsed rows are applied
type Options struct {
	DryRun  bool // validate and match only, write nothing
	Publish bool // created rows start published, matched drafts get published
}

// Report summarises an import
type Report struct {
	Kind      models.ContentKind `json:"kind"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Skipped   int                `json:"skipped"`
	DryRun    bool               `json:"dry_run"`
	Published bool               `json:"published"`
	Errors    []RowError         `json:"errors"`
}

// Changed reports whether the import wrote anything
func (r *Report) Changed() bool {
	return !r.DryRun && r.Created+r.Updated > 0
}

// Importer applies parsed CSV rows to the store
type Importer struct {
	store  store.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewImporter creates an importer
func NewImporter(s store.Store, logger *logging.Logger) *Importer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Importer{
		store:  s,
		logger: logger.WithField("component", "csvimport"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// existingIndex finds stored rows by slug, then by normalised title
type existingIndex struct {
	bySlug  map[string]models.Content
	byTitle map[string]models.Content
}

func (ix *existingIndex) add(c models.Content) {
	ix.bySlug[c.GetSlug()] = c
	if key := models.NormalizeHeadline(c.DisplayTitle()); key != "" {
		if _, seen := ix.byTitle[key]; !seen {
			ix.byTitle[key] = c
		}
	}
}

func (ix *existingIndex) match(c models.Content) models.Content {
	if s := slug.Make(c.GetSlug()); s != "" {
		if found, ok := ix.bySlug[s]; ok {
			return found
		}
	}
	return ix.byTitle[models.NormalizeHeadline(c.DisplayTitle())]
}

// Import creates or updates one record per parsed row. Parse errors are
// carried into the report and counted as skipped.
func (im *Importer) Import(ctx context.Context, res *Result, opts Options) (*Report, error) {
	report := &Report{
		Kind:      res.Kind,
		DryRun:    opts.DryRun,
		Published: opts.Publish,
		Errors:    append([]RowError{}, res.Errors...),
		Skipped:   len(res.Errors),
	}

	existing, err := store.ListContent(ctx, im.store, res.Kind, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load existing %s: %w", res.Kind, err)
	}
	index := &existingIndex{
		bySlug:  make(map[string]models.Content, len(existing)),
		byTitle: make(map[string]models.Content, len(existing)),
	}
	for _, c := range existing {
		index.add(c)
	}

	for _, row := range res.Rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var applyErr error
		if match := index.match(row.Content); match != nil {
			applyErr = im.update(ctx, row.Content, match, opts)
			if applyErr == nil {
				report.Updated++
			}
		} else {
			applyErr = im.create(ctx, row.Content, index, opts)
			if applyErr == nil {
				report.Created++
			}
		}

		if applyErr != nil {
			report.Skipped++
			report.Errors = append(report.Errors, RowError{Line: row.Line, Message: applyErr.Error()})
			continue
		}
		index.add(row.Content)
	}

	im.logger.Info("CSV import finished", map[string]interface{}{
		"kind":    string(res.Kind),
		"created": report.Created,
		"updated": report.Updated,
		"skipped": report.Skipped,
		"dry_run": opts.DryRun,
	})
	return report, nil
}

func (im *Importer) create(ctx context.Context, c models.Content, index *existingIndex, opts Options) error {
	base := slug.Make(c.GetSlug())
	if base == "" {
		base = slug.Make(c.DisplayTitle())
	}
	var lookupErr error
	unique := slug.Unique(base, func(candidate string) bool {
		if _, ok := index.bySlug[candidate]; ok {
			return true
		}
		if opts.DryRun {
			return false
		}
		taken, err := im.store.SlugExists(ctx, store.KindOf(c), candidate, "")
		if err != nil {
			lookupErr = err
			return false
		}
		return taken
	})
	if lookupErr != nil {
		return lookupErr
	}
	store.SetIdentity(c, uuid.NewString(), unique)

	now := im.now()
	meta := c.Meta()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.EditorialState = models.StateDraft
	if opts.Publish {
		meta.EditorialState = models.StatePublished
		meta.PublishedAt = &now
	}

	if opts.DryRun {
		return nil
	}
	return store.CreateContent(ctx, im.store, c)
}

func (im *Importer) update(ctx context.Context, c, match models.Content, opts Options) error {
	old := match.Meta()
	store.SetIdentity(c, match.GetID(), match.GetSlug())

	meta := c.Meta()
	if meta.DisplayOrder == 0 {
		meta.DisplayOrder = old.DisplayOrder
	}
	meta.CreatedAt = old.CreatedAt
	meta.UpdatedAt = im.now()
	meta.EditorialState = old.EditorialState
	meta.PublishedAt = old.PublishedAt

	if opts.DryRun {
		return nil
	}
	if err := store.UpdateContent(ctx, im.store, c); err != nil {
		return err
	}
	if opts.Publish && old.EditorialState != models.StatePublished {
		err := im.store.SetEditorialState(ctx, store.KindOf(c), c.GetID(), models.StatePublished)
		if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
		meta.EditorialState = models.StatePublished
	}
	return nil
}
