package privacy

import "regexp"

// Rule categories. The catalog applies them in this priority order because
// the categories overlap syntactically and higher-priority rules must claim
// spans first.
const (
	CategoryNamedEntity = "named_entity"
	CategoryAddress     = "address"
	CategoryPhone       = "phone"
	CategoryCreditCard  = "credit_card"
	CategoryNationalID  = "national_id"
	CategoryStreet      = "street_address"
	CategoryTitledName  = "titled_name"
	CategoryPostalCode  = "postal_code"
	CategoryDateOfBirth = "date_of_birth"
	CategoryIPAddress   = "ip_address"
)

// Replacement tokens for static redaction categories. One token per
// category, not differentiated per value.
const (
	TokenExecutive = "[EXECUTIVE_REDACTED]"
	TokenPhone     = "[PHONE_REDACTED]"
	TokenCard      = "[CARD_REDACTED]"
	TokenSSN       = "[SSN_REDACTED]"
	TokenStreet    = "[ADDRESS_REDACTED]"
	TokenZip       = "[ZIP_REDACTED]"
	TokenDOB       = "[DOB_REDACTED]"
	TokenIP        = "[IP_REDACTED]"
)

// ReplaceFunc builds the replacement for one accepted match. groups holds
// the full match followed by its capture groups, unmatched groups empty.
type ReplaceFunc func(groups []string) string

// Rule is one entry in the pattern registry.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Skip marks matches that must be left untouched and uncounted, such
	// as text that is already a pseudonym. May be nil.
	Skip    *regexp.Regexp
	Replace ReplaceFunc
	// Heuristic rules carry a high false-positive rate and may be disabled
	// independently by the corpus owner.
	Heuristic bool
}

// ScrubResult contains scrubbed text and per-category match counts. Counts
// holds only categories with at least one accepted match.
type ScrubResult struct {
	Text   string
	Counts map[string]int
}
