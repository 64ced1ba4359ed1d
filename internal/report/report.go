// Package report renders a batch's results into documents and delivers them
// to the configured sinks.
package report

import (
	"slices"
	"strings"
	"time"

	"github.com/seantiz/outletwatch/internal/model"
)

// TimeLayout is the timestamp format used in rendered documents.
const TimeLayout = "2006-01-02 15:04:05"

// Report is the immutable hand-over from a finished batch to the pipeline.
type Report struct {
	RunID        string
	Results      []model.Result
	TotalOutlets int
	Unresolved   []string
	Elapsed      time.Duration
	GeneratedAt  time.Time
}

// New builds a report. Results are copied and sorted by outlet id so rendered
// documents are stable regardless of arrival order.
func New(runID string, results []model.Result, totalOutlets int, unresolved []string, elapsed time.Duration) *Report {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b model.Result) int {
		return strings.Compare(a.OutletID, b.OutletID)
	})
	return &Report{
		RunID:        runID,
		Results:      sorted,
		TotalOutlets: totalOutlets,
		Unresolved:   slices.Clone(unresolved),
		Elapsed:      elapsed,
		GeneratedAt:  time.Now(),
	}
}

// TotalChecked returns the number of outlets with a result.
func (r *Report) TotalChecked() int {
	return len(r.Results)
}

// Partial reports whether the deadline cut some outlets off.
func (r *Report) Partial() bool {
	return len(r.Results) < r.TotalOutlets
}

// Histogram counts results per status.
func (r *Report) Histogram() map[string]int {
	h := make(map[string]int)
	for _, res := range r.Results {
		h[res.Status]++
	}
	return h
}

// StatusCount is one histogram bucket.
type StatusCount struct {
	Status string
	Count  int
}

// SortedHistogram returns the histogram ordered by descending count, then
// status.
func (r *Report) SortedHistogram() []StatusCount {
	h := r.Histogram()
	out := make([]StatusCount, 0, len(h))
	for s, n := range h {
		out = append(out, StatusCount{Status: s, Count: n})
	}
	slices.SortFunc(out, func(a, b StatusCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Status, b.Status)
	})
	return out
}

// NeedsAttention returns the results whose status is offline, closed or one of
// the failure labels.
func (r *Report) NeedsAttention() []model.Result {
	var out []model.Result
	for _, res := range r.Results {
		if needsAttention(res.Status) {
			out = append(out, res)
		}
	}
	return out
}

func needsAttention(status string) bool {
	if model.IsFailureLabel(status) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "offline", "closed", strings.ToLower(model.LabelCheckFailed):
		return true
	}
	return false
}

// Document is one rendered report file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Renderer turns a report into a document.
type Renderer interface {
	Format() string
	Render(r *Report) (Document, error)
}

// fileName is the base name shared by every rendered format.
func fileName(r *Report, ext string) string {
	return "outlet_status_" + r.GeneratedAt.Format("20060102_1504") + "." + ext
}
