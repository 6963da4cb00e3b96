// Package csvimport maps spreadsheet exports onto promises, indicators and
// timeline entries and applies them to the store.
package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/store"
)

var (
	ErrEmpty         = errors.New("csv has no header row")
	ErrMissingColumn = errors.New("required column missing")
)

// RowError reports a problem with one CSV line
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
}

// Row is one parsed, validated record and the line it came from
type Row struct {
	Line    int
	Content models.Content
}

// Result holds the rows that parsed cleanly and the errors for the rest
type Result struct {
	Kind   models.ContentKind
	Rows   []Row
	Errors []RowError
}

// headerAliases maps normalised spreadsheet headers to canonical columns
var headerAliases = map[models.ContentKind]map[string]string{
	models.KindPromise: {
		"title":         "headline",
		"promise":       "headline",
		"commitment":    "headline",
		"details":       "description",
		"summary":       "description",
		"topic":         "category",
		"area":          "category",
		"progress":      "status",
		"source":        "sources",
		"links":         "sources",
		"source_urls":   "sources",
		"display_order": "order",
		"position":      "order",
		"rank":          "order",
	},
	models.KindIndicator: {
		"metric":         "name",
		"indicator":      "name",
		"title":          "name",
		"current":        "value",
		"current_value":  "value",
		"baseline_value": "baseline",
		"goal":           "target",
		"target_value":   "target",
		"units":          "unit",
		"direction":      "trend",
		"source":         "source_url",
		"url":            "source_url",
		"link":           "source_url",
		"promise":        "related_promise",
		"related":        "related_promise",
		"topic":          "category",
		"details":        "description",
		"display_order":  "order",
		"position":       "order",
	},
	models.KindTimeline: {
		"event":         "title",
		"headline":      "title",
		"day_number":    "day",
		"entry_date":    "date",
		"details":       "description",
		"promise":       "related_promise",
		"related":       "related_promise",
		"display_order": "order",
		"position":      "order",
	},
}

var requiredColumn = map[models.ContentKind]string{
	models.KindPromise:   "headline",
	models.KindIndicator: "name",
	models.KindTimeline:  "title",
}

// Parse reads a CSV export with a header row. Row-level problems are
// collected in Result.Errors; only an unreadable file or a missing required
// column is returned as an error.
func Parse(kind models.ContentKind, r io.Reader) (*Result, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}

	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := canonicalColumn(kind, h)
		if _, dup := columns[name]; !dup && name != "" {
			columns[name] = i
		}
	}
	if _, ok := columns[requiredColumn[kind]]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, requiredColumn[kind])
	}

	res := &Result{Kind: kind}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("failed to read csv: %w", err)
			}
			res.Errors = append(res.Errors, RowError{Line: perr.StartLine, Message: perr.Err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}

		rec := csvRecord{columns: columns, values: record}
		content, rowErr := buildRow(kind, rec)
		if rowErr != nil {
			rowErr.Line = line
			res.Errors = append(res.Errors, *rowErr)
			continue
		}
		res.Rows = append(res.Rows, Row{Line: line, Content: content})
	}
	return res, nil
}

func canonicalColumn(kind models.ContentKind, raw string) string {
	name := models.NormalizeKey(raw)
	if alias, ok := headerAliases[kind][name]; ok {
		return alias
	}
	return name
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// csvRecord looks values up by canonical column name
type csvRecord struct {
	columns map[string]int
	values  []string
}

func (r csvRecord) get(column string) string {
	i, ok := r.columns[column]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func buildRow(kind models.ContentKind, rec csvRecord) (models.Content, *RowError) {
	order, err := parseInt(rec.get("order"))
	if err != nil {
		return nil, &RowError{Field: "order", Message: err.Error()}
	}

	var content models.Content
	switch kind {
	case models.KindPromise:
		p, rowErr := buildPromise(rec)
		if rowErr != nil {
			return nil, rowErr
		}
		content = p
	case models.KindIndicator:
		i, rowErr := buildIndicator(rec)
		if rowErr != nil {
			return nil, rowErr
		}
		content = i
	case models.KindTimeline:
		e, rowErr := buildTimelineEntry(rec)
		if rowErr != nil {
			return nil, rowErr
		}
		content = e
	}

	content.Meta().DisplayOrder = order
	if err := store.ValidateContent(content); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return nil, &RowError{Field: verr.Field, Message: verr.Message}
		}
		return nil, &RowError{Message: err.Error()}
	}
	return content, nil
}

func buildPromise(rec csvRecord) (*models.Promise, *RowError) {
	status, err := models.ParsePromiseStatus(rec.get("status"))
	if err != nil {
		return nil, &RowError{Field: "status", Message: err.Error()}
	}
	sources, err := ParseSources(rec.get("sources"))
	if err != nil {
		return nil, &RowError{Field: "sources", Message: err.Error()}
	}
	return &models.Promise{
		Slug:        rec.get("slug"),
		Headline:    rec.get("headline"),
		Description: rec.get("description"),
		Category:    rec.get("category"),
		Status:      status,
		Sources:     sources,
	}, nil
}

func buildIndicator(rec csvRecord) (*models.Indicator, *RowError) {
	ind := &models.Indicator{
		Slug:           rec.get("slug"),
		Name:           rec.get("name"),
		Category:       rec.get("category"),
		Description:    rec.get("description"),
		Unit:           rec.get("unit"),
		Trend:          models.IndicatorTrend(strings.ToLower(rec.get("trend"))),
		SourceURL:      rec.get("source_url"),
		RelatedPromise: rec.get("related_promise"),
	}
	for _, f := range []struct {
		column string
		dst    **float64
	}{
		{"value", &ind.Value},
		{"baseline", &ind.Baseline},
		{"target", &ind.Target},
	} {
		v, err := ParseNumber(rec.get(f.column))
		if err != nil {
			return nil, &RowError{Field: f.column, Message: err.Error()}
		}
		*f.dst = v
	}
	return ind, nil
}

func buildTimelineEntry(rec csvRecord) (*models.TimelineEntry, *RowError) {
	day, err := parseInt(rec.get("day"))
	if err != nil {
		return nil, &RowError{Field: "day", Message: err.Error()}
	}
	return &models.TimelineEntry{
		Slug:           rec.get("slug"),
		Day:            day,
		Date:           rec.get("date"),
		Title:          rec.get("title"),
		Description:    rec.get("description"),
		RelatedPromise: rec.get("related_promise"),
	}, nil
}

// ParseNumber parses spreadsheet numbers such as "1,250", "12.5%" or
// "$3,000". Empty input yields nil.
func ParseNumber(raw string) (*float64, error) {
	cleaned := strings.NewReplacer(",", "", "%", "", "$", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	return &v, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not a whole number: %q", raw)
	}
	return v, nil
}

// ParseSources splits a sources cell into citations. Entries are separated
// by ";" or newlines and are either "Title|URL" or a bare URL.
func ParseSources(raw string) ([]models.Source, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' || r == '\r' })

	var sources []models.Source
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		src := models.Source{URL: part}
		if title, link, ok := strings.Cut(part, "|"); ok {
			src = models.Source{Title: strings.TrimSpace(title), URL: strings.TrimSpace(link)}
		}
		u, err := url.Parse(src.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid source URL %q", src.URL)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
