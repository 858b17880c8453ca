package corpus

import (
	"strings"
	"unicode/utf8"
)

// Placeholder values for records missing a subject or sender.
const (
	DefaultSubject = "(No Subject)"
	DefaultFrom    = "unknown@example.com"
)

// Record is a single email drawn from one of the corpus sources.
type Record struct {
	Subject string `csv:"subject" parquet:"subject" json:"subject"`
	From    string `csv:"from" parquet:"from" json:"from"`
	Body    string `csv:"body" parquet:"body" json:"body"`
	Source  string `csv:"source" parquet:"source,optional" json:"source,omitempty"`
}

// Blank reports whether the record carries no subject and no sender.
// Blank records are dropped rather than padded with placeholders.
func (r *Record) Blank() bool {
	return strings.TrimSpace(r.Subject) == "" && strings.TrimSpace(r.From) == ""
}

// ApplyDefaults fills a missing subject or sender with placeholder values.
func (r *Record) ApplyDefaults() {
	if strings.TrimSpace(r.Subject) == "" {
		r.Subject = DefaultSubject
	}
	if strings.TrimSpace(r.From) == "" {
		r.From = DefaultFrom
	}
}

// Truncate caps the body at maxBody bytes, backing off to the nearest
// rune boundary so the result stays valid UTF-8.
func (r *Record) Truncate(maxBody int) {
	if maxBody <= 0 || len(r.Body) <= maxBody {
		return
	}
	cut := maxBody
	for cut > 0 && !utf8.RuneStart(r.Body[cut]) {
		cut--
	}
	r.Body = r.Body[:cut]
}
