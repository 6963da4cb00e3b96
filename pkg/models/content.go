package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ContentKind names one of the CMS-managed collections
type ContentKind string

const (
	KindPromise   ContentKind = "promises"
	KindIndicator ContentKind = "indicators"
	KindTimeline  ContentKind = "timeline"
)

// AllKinds lists every content kind in display order
var AllKinds = []ContentKind{KindPromise, KindIndicator, KindTimeline}

// IsValid reports whether k is a known content kind
func (k ContentKind) IsValid() bool {
	switch k {
	case KindPromise, KindIndicator, KindTimeline:
		return true
	}
	return false
}

// Singular returns a human label for log and error messages
func (k ContentKind) Singular() string {
	switch k {
	case KindPromise:
		return "promise"
	case KindIndicator:
		return "indicator"
	case KindTimeline:
		return "timeline entry"
	}
	return string(k)
}

// ParseContentKind validates a kind taken from a URL or CLI argument
func ParseContentKind(raw string) (ContentKind, error) {
	k := ContentKind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown content kind %q (valid: promises, indicators, timeline)", raw)
	}
	return k, nil
}

// Content is implemented by every CMS-managed row type
type Content interface {
	GetID() string
	GetSlug() string
	DisplayTitle() string
	Meta() *Editorial
}

// PromiseStatus tracks progress on a campaign commitment
type PromiseStatus string

const (
	PromiseNotStarted         PromiseStatus = "not_started"
	PromiseInProgress         PromiseStatus = "in_progress"
	PromisePartiallyFulfilled PromiseStatus = "partially_fulfilled"
	PromiseFulfilled          PromiseStatus = "fulfilled"
	PromiseBroken             PromiseStatus = "broken"
)

// PromiseStatuses lists statuses in the order the site presents them
var PromiseStatuses = []PromiseStatus{
	PromiseNotStarted, PromiseInProgress, PromisePartiallyFulfilled, PromiseFulfilled, PromiseBroken,
}

var promiseStatusLabels = map[PromiseStatus]string{
	PromiseNotStarted:         "Not started",
	PromiseInProgress:         "In progress",
	PromisePartiallyFulfilled: "Partially fulfilled",
	PromiseFulfilled:          "Fulfilled",
	PromiseBroken:             "Broken",
}

// aliases accepted from spreadsheets and older exports
var promiseStatusAliases = map[string]PromiseStatus{
	"":            PromiseNotStarted,
	"not_started": PromiseNotStarted,
	"pending":     PromiseNotStarted,
	"in_progress": PromiseInProgress,
	"ongoing":     PromiseInProgress,
	"started":     PromiseInProgress,

	"partial":             PromisePartiallyFulfilled,
	"partially":           PromisePartiallyFulfilled,
	"partially_fulfilled": PromisePartiallyFulfilled,
	"partially_kept":      PromisePartiallyFulfilled,

	"fulfilled": PromiseFulfilled,
	"kept":      PromiseFulfilled,
	"done":      PromiseFulfilled,
	"completed": PromiseFulfilled,
	"broken":    PromiseBroken,
	"abandoned": PromiseBroken,
}

// IsValid reports whether s is a known status
func (s PromiseStatus) IsValid() bool {
	_, ok := promiseStatusLabels[s]
	return ok
}

// Label returns the display label for the status
func (s PromiseStatus) Label() string {
	if label, ok := promiseStatusLabels[s]; ok {
		return label
	}
	return string(s)
}

// ParsePromiseStatus normalises free-form status text. Empty input maps to
// not_started.
func ParsePromiseStatus(raw string) (PromiseStatus, error) {
	key := NormalizeKey(raw)
	if status, ok := promiseStatusAliases[key]; ok {
		return status, nil
	}
	return "", fmt.Errorf("unknown promise status %q", raw)
}

// NormalizeKey lowercases and collapses spaces and dashes into underscores
func NormalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	return key
}

// Source is a citation backing a promise's status
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Promise is a tracked campaign commitment
type Promise struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Headline    string        `json:"headline"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	Status      PromiseStatus `json:"status"`
	Sources     []Source      `json:"sources,omitempty"`
	Editorial
}

func (p *Promise) GetID() string        { return p.ID }
func (p *Promise) GetSlug() string      { return p.Slug }
func (p *Promise) DisplayTitle() string { return p.Headline }

// Validate checks the fields an editor controls
func (p *Promise) Validate() error {
	if strings.TrimSpace(p.Headline) == "" {
		return &ValidationError{Field: "headline", Message: "headline is required"}
	}
	if p.Status == "" {
		p.Status = PromiseNotStarted
	}
	if !p.Status.IsValid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", p.Status)}
	}
	for i, src := range p.Sources {
		if err := validateURL(src.URL); err != nil {
			return &ValidationError{Field: fmt.Sprintf("sources[%d].url", i), Message: err.Error()}
		}
	}
	return validateEditorial(&p.Editorial)
}

// IndicatorTrend is the direction an indicator is moving
type IndicatorTrend string

const (
	TrendUp   IndicatorTrend = "up"
	TrendDown IndicatorTrend = "down"
	TrendFlat IndicatorTrend = "flat"
)

// Indicator is a tracked quantitative metric
type Indicator struct {
	ID             string         `json:"id"`
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Category       string         `json:"category,omitempty"`
	Description    string         `json:"description,omitempty"`
	Value          *float64       `json:"value,omitempty"`
	Unit           string         `json:"unit,omitempty"`
	Baseline       *float64       `json:"baseline,omitempty"`
	Target         *float64       `json:"target,omitempty"`
	Trend          IndicatorTrend `json:"trend,omitempty"`
	SourceURL      string         `json:"source_url,omitempty"`
	RelatedPromise string         `json:"related_promise,omitempty"` // headline text of a Promise
	Editorial
}

func (i *Indicator) GetID() string        { return i.ID }
func (i *Indicator) GetSlug() string      { return i.Slug }
func (i *Indicator) DisplayTitle() string { return i.Name }

// Validate checks the fields an editor controls
func (i *Indicator) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	switch i.Trend {
	case "", TrendUp, TrendDown, TrendFlat:
	default:
		return &ValidationError{Field: "trend", Message: fmt.Sprintf("unknown trend %q", i.Trend)}
	}
	if i.SourceURL != "" {
		if err := validateURL(i.SourceURL); err != nil {
			return &ValidationError{Field: "source_url", Message: err.Error()}
		}
	}
	return validateEditorial(&i.Editorial)
}

// TimelineEntry is one item of the "First 100 Days" timeline
type TimelineEntry struct {
	ID             string `json:"id"`
	Slug           string `json:"slug"`
	Day            int    `json:"day"`
	Date           string `json:"date,omitempty"` // YYYY-MM-DD
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	RelatedPromise string `json:"related_promise,omitempty"`
	Editorial
}

func (t *TimelineEntry) GetID() string        { return t.ID }
func (t *TimelineEntry) GetSlug() string      { return t.Slug }
func (t *TimelineEntry) DisplayTitle() string { return t.Title }

// Validate checks the fields an editor controls
func (t *TimelineEntry) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if t.Day < 1 || t.Day > 100 {
		return &ValidationError{Field: "day", Message: "day must be between 1 and 100"}
	}
	if t.Date != "" && !isISODate(t.Date) {
		return &ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	return validateEditorial(&t.Editorial)
}

func validateEditorial(e *Editorial) error {
	if e.EditorialState == "" {
		e.EditorialState = StateDraft
	}
	if !e.EditorialState.IsValid() {
		return &ValidationError{Field: "editorial_state", Message: fmt.Sprintf("unknown state %q", e.EditorialState)}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid URL %q", raw)
	}
	return nil
}

// ContentStats summarises row counts for dashboards and metrics.
// PromisesByStatus counts published promises only.
type ContentStats struct {
	PromisesByStatus map[PromiseStatus]int                 `json:"promises_by_status"`
	ByState          map[ContentKind]map[EditorialState]int `json:"by_state"`
}

// NewContentStats returns stats with every bucket present at zero
func NewContentStats() *ContentStats {
	stats := &ContentStats{
		PromisesByStatus: make(map[PromiseStatus]int),
		ByState:          make(map[ContentKind]map[EditorialState]int),
	}
	for _, status := range PromiseStatuses {
		stats.PromisesByStatus[status] = 0
	}
	for _, kind := range AllKinds {
		stats.ByState[kind] = map[EditorialState]int{StateDraft: 0, StatePublished: 0}
	}
	return stats
}

// isISODate accepts a real calendar date written as YYYY-MM-DD
func isISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil && len(s) == len("2006-01-02")
}
