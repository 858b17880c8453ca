package audit

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/corpus"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"github.com/zeroinbox/mailscrub/internal/privacy"
)

// maxSampledFindings caps the findings list so a badly broken corpus
// does not balloon the report.
const maxSampledFindings = 20

// Finding locates one residual match in an audited corpus. The matched
// text itself is deliberately not carried; the report must stay clean
// even when the corpus is not.
type Finding struct {
	Record   int    `json:"record"`
	Field    string `json:"field"`
	Category string `json:"category"`
}

// Result is the outcome of auditing one emitted batch.
type Result struct {
	Path     string         `json:"path"`
	Records  int            `json:"records"`
	Flagged  int            `json:"flagged"`
	Residual map[string]int `json:"residual"`
	Findings []Finding      `json:"findings,omitempty"`
	Passed   bool           `json:"passed"`
}

// Auditor re-scans emitted batches with the same rule set that produced
// them, in detect-only mode. Any match on supposedly clean output is a
// residual leak.
type Auditor struct {
	scrubber *privacy.Scrubber
	logger   *logger.Logger
}

// New creates an auditor around a scrubber.
func New(scrubber *privacy.Scrubber, log *logger.Logger) *Auditor {
	return &Auditor{scrubber: scrubber, logger: log}
}

// AuditFile loads an emitted batch, JSON or parquet by extension, and
// audits every record in it.
func (a *Auditor) AuditFile(path string) (*Result, error) {
	records, err := corpus.ReadBatch(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", path, err)
	}

	return a.AuditRecords(path, records), nil
}

// AuditRecords audits records already in memory.
func (a *Auditor) AuditRecords(path string, records []corpus.Record) *Result {
	result := &Result{
		Path:     path,
		Records:  len(records),
		Residual: make(map[string]int),
	}

	for i := range records {
		fields := []struct {
			name string
			text string
		}{
			{"subject", records[i].Subject},
			{"from", records[i].From},
			{"body", records[i].Body},
		}

		flagged := false
		for _, field := range fields {
			for category, count := range a.scrubber.Detect(field.text) {
				result.Residual[category] += count
				flagged = true
				if len(result.Findings) < maxSampledFindings {
					result.Findings = append(result.Findings, Finding{
						Record:   i,
						Field:    field.name,
						Category: category,
					})
				}
			}
		}
		if flagged {
			result.Flagged++
		}
	}

	result.Passed = len(result.Residual) == 0

	if result.Passed {
		a.logger.Info("Audit passed",
			zap.String("path", path),
			zap.Int("records", result.Records))
	} else {
		a.logger.Warn("Audit found residual matches",
			zap.String("path", path),
			zap.Int("records", result.Records),
			zap.Int("flagged", result.Flagged),
			zap.Any("residual", result.Residual))
	}

	return result
}

// String renders the result as a plain text report.
func (r *Result) String() string {
	var b strings.Builder

	if r.Passed {
		fmt.Fprintf(&b, "Audit of %s: PASS (%d records clean)\n", r.Path, r.Records)
		return b.String()
	}

	fmt.Fprintf(&b, "Audit of %s: FAIL (%d of %d records carry residual matches)\n",
		r.Path, r.Flagged, r.Records)

	categories := make([]string, 0, len(r.Residual))
	for category := range r.Residual {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(&b, "  %-16s %d\n", category, r.Residual[category])
	}

	if len(r.Findings) > 0 {
		fmt.Fprintf(&b, "Sampled findings:\n")
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "  record %d, %s: %s\n", f.Record, f.Field, f.Category)
		}
	}

	return b.String()
}
