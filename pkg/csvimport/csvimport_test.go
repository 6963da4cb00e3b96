package csvimport

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

const promisesCSV = "\ufeffTitle,Category,Progress,Sources,Display Order\n" +
	"Fast and Free Buses,Transit,In Progress,\"Campaign site|https://example.org/buses; https://news.example.com/a\",2\n" +
	"\n" +
	"Rent Freeze,Housing,,,1\n" +
	",,,,\n" +
	"City-Owned Grocery Stores,Food,maybe,,\n" +
	"Universal Childcare,Care,kept,ftp://bad,\n"

func TestParsePromises(t *testing.T) {
	res, err := Parse(models.KindPromise, strings.NewReader(promisesCSV))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	buses := res.Rows[0].Content.(*models.Promise)
	assert.Equal(t, 2, res.Rows[0].Line)
	assert.Equal(t, "Fast and Free Buses", buses.Headline)
	assert.Equal(t, models.PromiseInProgress, buses.Status)
	assert.Equal(t, 2, buses.DisplayOrder)
	want := []models.Source{
		{Title: "Campaign site", URL: "https://example.org/buses"},
		{URL: "https://news.example.com/a"},
	}
	if diff := cmp.Diff(want, buses.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	rent := res.Rows[1].Content.(*models.Promise)
	assert.Equal(t, 4, res.Rows[1].Line)
	assert.Equal(t, models.PromiseNotStarted, rent.Status)
	assert.Equal(t, models.StateDraft, rent.EditorialState)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, RowError{Line: 6, Field: "status", Message: `unknown promise status "maybe"`}, res.Errors[0])
	assert.Equal(t, 7, res.Errors[1].Line)
	assert.Equal(t, "sources", res.Errors[1].Field)
}

func TestParseIndicators(t *testing.T) {
	data := "Metric,Current,Baseline,Goal,Units,Trend,Source,Related\n" +
		"Bus speed,\"8,250\",7.1,12%,mph,UP,https://data.example.gov/bus,Fast and Free Buses\n" +
		"Rent burden,,,,,,,\n" +
		"Evictions,lots,,,,,,\n"

	res, err := Parse(models.KindIndicator, strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	speed := res.Rows[0].Content.(*models.Indicator)
	require.NotNil(t, speed.Value)
	assert.Equal(t, 8250.0, *speed.Value)
	assert.Equal(t, 7.1, *speed.Baseline)
	assert.Equal(t, 12.0, *speed.Target)
	assert.Equal(t, models.TrendUp, speed.Trend)
	assert.Equal(t, "Fast and Free Buses", speed.RelatedPromise)

	burden := res.Rows[1].Content.(*models.Indicator)
	assert.Nil(t, burden.Value)
	assert.Nil(t, burden.Target)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "value", res.Errors[0].Field)
}

func TestParseTimeline(t *testing.T) {
	data := "day,date,event,details\n" +
		"1,2026-01-01,Sworn in,Inauguration\n" +
		"101,,Too late,\n" +
		"3,01/03/2026,Bad date,\n"

	res, err := Parse(models.KindTimeline, strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Sworn in", res.Rows[0].Content.DisplayTitle())

	fields := []string{}
	for _, e := range res.Errors {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"day", "date"}, fields)
}

func TestParseHeaderErrors(t *testing.T) {
	_, err := Parse(models.KindPromise, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse(models.KindPromise, strings.NewReader("category,status\nTransit,done\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = Parse(models.ContentKind("pages"), strings.NewReader("title\n"))
	assert.Error(t, err)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		isNil   bool
		wantErr bool
	}{
		{in: "1,250", want: 1250},
		{in: " 12.5% ", want: 12.5},
		{in: "$3,000", want: 3000},
		{in: "-4", want: -4},
		{in: "", isNil: true},
		{in: "n/a", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		if tt.isNil {
			assert.Nil(t, got, tt.in)
			continue
		}
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, *got, tt.in)
	}
}

func TestImportCreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	existing := &models.Promise{ID: "p1", Slug: "rent-freeze", Headline: "Rent Freeze", Category: "Housing",
		Status: models.PromiseNotStarted, Editorial: models.Editorial{EditorialState: models.StatePublished, DisplayOrder: 5}}
	require.NoError(t, s.CreatePromise(ctx, existing))
	require.NoError(t, s.CreatePromise(ctx, &models.Promise{ID: "p2", Slug: "fast-and-free-buses", Headline: "Unrelated"}))

	res, err := Parse(models.KindPromise, strings.NewReader(promisesCSV))
	require.NoError(t, err)

	report, err := NewImporter(s, nil).Import(ctx, res, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, report.Errors, 2)
	assert.True(t, report.Changed())

	rent, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, rent.EditorialState, "update keeps editorial state")
	assert.Equal(t, 1, rent.DisplayOrder)

	// "fast-and-free-buses" is taken by an unrelated headline
	buses, err := s.GetPromiseBySlug(ctx, "fast-and-free-buses-2")
	require.NoError(t, err)
	assert.Equal(t, "Fast and Free Buses", buses.Headline)
	assert.Equal(t, models.StateDraft, buses.EditorialState)
	assert.NotEmpty(t, buses.ID)
}

func TestImportPublishAndDryRun(t *testing.T) {
	ctx := context.Background()
	data := "headline\nRent Freeze\nRent Freeze\n"

	s := store.NewMemoryStore()
	res, err := Parse(models.KindPromise, strings.NewReader(data))
	require.NoError(t, err)

	dry, err := NewImporter(s, nil).Import(ctx, res, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, dry.Created)
	assert.Equal(t, 1, dry.Updated, "duplicate row matches the row created earlier in the batch")
	assert.False(t, dry.Changed())
	rows, _ := s.ListPromises(ctx, store.Filter{})
	assert.Empty(t, rows)

	res, err = Parse(models.KindPromise, strings.NewReader(data))
	require.NoError(t, err)
	report, err := NewImporter(s, nil).Import(ctx, res, Options{Publish: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	rows, err = s.ListPromises(ctx, store.Published())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].PublishedAt)
}

func TestImportNormalizesSlugColumn(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreatePromise(ctx, &models.Promise{ID: "p1", Slug: "fare-free-buses", Headline: "Free buses"}))

	data := "headline,slug,status\n" +
		"Rent freeze,Rent Freeze!,in_progress\n" +
		"Fare-free buses,Fare Free Buses,kept\n" +
		"Universal childcare,!!!,not_started\n"
	res, err := Parse(models.KindPromise, strings.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	report, err := NewImporter(s, nil).Import(ctx, res, Options{Publish: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Updated)

	rent, err := s.GetPromiseBySlug(ctx, "rent-freeze")
	require.NoError(t, err)
	assert.Equal(t, "Rent freeze", rent.Headline)

	buses, err := s.GetPromise(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Fare-free buses", buses.Headline, "slug column matches after normalisation")

	care, err := s.GetPromiseBySlug(ctx, "universal-childcare")
	require.NoError(t, err)
	assert.Equal(t, "Universal childcare", care.Headline)
}
