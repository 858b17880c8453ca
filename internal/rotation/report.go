package rotation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeroinbox/mailscrub/internal/source"
)

// SourceCoverage is one source's read position against its estimate.
type SourceCoverage struct {
	Name     string  `json:"name"`
	Offset   int     `json:"offset"`
	Estimate int     `json:"estimate"`
	Percent  float64 `json:"percent"`
}

// Report is a point-in-time coverage summary across all sources.
type Report struct {
	Rotation         int              `json:"rotation"`
	EstimatedTotal   int              `json:"estimated_total"`
	TotalProcessed   int              `json:"total_processed"`
	UniqueProcessed  int              `json:"unique_processed"`
	CoveragePercent  float64          `json:"coverage_percent"`
	RotationsForFull int              `json:"rotations_for_full"`
	Sources          []SourceCoverage `json:"sources"`
	Intents          map[string]int   `json:"intents,omitempty"`
	History          []RunRecord      `json:"run_history"`
}

// BuildReport computes coverage of the estimated corpus from the given
// state and source roster.
func BuildReport(state *State, sources []source.Reader, batchSize int) *Report {
	report := &Report{
		Rotation:        state.RotationNumber,
		TotalProcessed:  state.Metrics.TotalProcessed,
		UniqueProcessed: state.UniqueProcessed(),
		Sources:         make([]SourceCoverage, 0, len(sources)),
		History:         append([]RunRecord(nil), state.RunHistory...),
	}

	if len(state.Metrics.Intents) > 0 {
		report.Intents = make(map[string]int, len(state.Metrics.Intents))
		for intent, count := range state.Metrics.Intents {
			report.Intents[intent] = count
		}
	}

	for _, reader := range sources {
		coverage := SourceCoverage{
			Name:     reader.Name(),
			Offset:   state.Offset(reader.Name()),
			Estimate: reader.Estimate(),
		}
		if coverage.Estimate > 0 {
			coverage.Percent = float64(coverage.Offset) / float64(coverage.Estimate) * 100
			if coverage.Percent > 100 {
				coverage.Percent = 100
			}
		}
		report.EstimatedTotal += coverage.Estimate
		report.Sources = append(report.Sources, coverage)
	}

	if report.EstimatedTotal > 0 {
		report.CoveragePercent = float64(report.UniqueProcessed) / float64(report.EstimatedTotal) * 100
		if batchSize > 0 {
			report.RotationsForFull = (report.EstimatedTotal + batchSize - 1) / batchSize
		}
	}

	return report
}

// String renders the report as a plain-text block for the CLI.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Coverage report (rotation %d)\n", r.Rotation)
	fmt.Fprintf(&b, "  Estimated total:  %d\n", r.EstimatedTotal)
	fmt.Fprintf(&b, "  Total processed:  %d\n", r.TotalProcessed)
	fmt.Fprintf(&b, "  Unique processed: %d (%.2f%%)\n", r.UniqueProcessed, r.CoveragePercent)
	fmt.Fprintf(&b, "  Rotations for full coverage: %d\n", r.RotationsForFull)

	b.WriteString("  Sources:\n")
	for _, s := range r.Sources {
		fmt.Fprintf(&b, "    %-20s offset %8d / %8d (%.1f%%)\n", s.Name, s.Offset, s.Estimate, s.Percent)
	}

	if len(r.Intents) > 0 {
		b.WriteString("  Top intents:\n")
		for _, intent := range topIntents(r.Intents, 10) {
			fmt.Fprintf(&b, "    %-20s %d\n", intent.name, intent.count)
		}
	}

	if n := len(r.History); n > 0 {
		last := r.History[n-1]
		fmt.Fprintf(&b, "  Last run: rotation %d, %d records, %d new\n",
			last.Rotation, last.BatchSize, last.NewEmails)
	}

	return b.String()
}

type intentCount struct {
	name  string
	count int
}

func topIntents(intents map[string]int, limit int) []intentCount {
	sorted := make([]intentCount, 0, len(intents))
	for name, count := range intents {
		sorted = append(sorted, intentCount{name, count})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].name < sorted[j].name
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
