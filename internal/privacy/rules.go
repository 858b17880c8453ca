package privacy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/zeroinbox/mailscrub/internal/anonymize"
	"github.com/zeroinbox/mailscrub/internal/config"
)

// Pseudonym fingerprint widths, in hex characters.
const (
	addressWidth = 8
	personWidth  = 6
)

var (
	addressPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phonePattern   = regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	cardPattern    = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	ssnPattern     = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	streetPattern  = regexp.MustCompile(`(?i)\b\d{1,5}\s+[\w\s]+(?:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|way|court|ct|place|pl)\b`)
	titledPattern  = regexp.MustCompile(`\b(Mr\.|Mrs\.|Ms\.|Dr\.|Prof\.)\s+[A-Z][a-z]+(\s+[A-Z][a-z]+)?\b`)
	postalPattern  = regexp.MustCompile(`\b\d{5}(-\d{4})?\b`)
	dobPattern     = regexp.MustCompile(`\b(0[1-9]|1[0-2])[-/](0[1-9]|[12]\d|3[01])[-/](\d{2}|\d{4})\b`)
	ipPattern      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

	// Address pseudonyms and the blank-sender placeholder must survive
	// repeated scrubbing untouched.
	pseudonymAddress = regexp.MustCompile(`(?i)^(?:user_[0-9a-f]{8}|unknown)@example\.[a-z]{2,}$`)
)

func staticToken(token string) ReplaceFunc {
	return func([]string) string { return token }
}

// mintAddress builds an address pseudonym that keeps the original top-level
// domain, so relational signal like provider grouping survives without
// revealing identity.
func mintAddress(norm, fp string) string {
	tld := "com"
	if i := strings.LastIndex(norm, "."); i >= 0 && i+1 < len(norm) {
		tld = norm[i+1:]
	}
	return fmt.Sprintf("user_%s@example.%s", fp, tld)
}

func mintPerson(norm, fp string) string {
	return "[PERSON_" + fp + "]"
}

// DefaultRules builds the built-in rule catalog in priority order, binding
// pseudonymization categories to cache. Order is significant: the
// known-entity list outranks generic title detection, and the address rule
// must run before the titled-name rule because an address local part can
// resemble a name.
func DefaultRules(cfg config.ScrubConfig, cache *anonymize.Cache) ([]Rule, error) {
	rules := make([]Rule, 0, 10+len(cfg.CustomRules))

	if len(cfg.NamedEntities) > 0 {
		quoted := make([]string, len(cfg.NamedEntities))
		for i, name := range cfg.NamedEntities {
			quoted[i] = regexp.QuoteMeta(name)
		}
		pattern, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile named entity pattern: %w", err)
		}
		rules = append(rules, Rule{
			Name:    CategoryNamedEntity,
			Pattern: pattern,
			Replace: staticToken(TokenExecutive),
		})
	}

	rules = append(rules,
		Rule{
			Name:    CategoryAddress,
			Pattern: addressPattern,
			Skip:    pseudonymAddress,
			Replace: func(groups []string) string {
				return cache.Resolve(CategoryAddress, groups[0], addressWidth, mintAddress)
			},
		},
		Rule{
			Name:    CategoryPhone,
			Pattern: phonePattern,
			Replace: staticToken(TokenPhone),
		},
		Rule{
			Name:    CategoryCreditCard,
			Pattern: cardPattern,
			Replace: staticToken(TokenCard),
		},
		Rule{
			Name:    CategoryNationalID,
			Pattern: ssnPattern,
			Replace: staticToken(TokenSSN),
		},
		Rule{
			Name:    CategoryStreet,
			Pattern: streetPattern,
			Replace: staticToken(TokenStreet),
		},
		Rule{
			Name:    CategoryTitledName,
			Pattern: titledPattern,
			Replace: func(groups []string) string {
				pseudonym := cache.Resolve(CategoryTitledName, groups[0], personWidth, mintPerson)
				return groups[1] + " " + pseudonym
			},
		},
		Rule{
			Name:      CategoryPostalCode,
			Pattern:   postalPattern,
			Replace:   staticToken(TokenZip),
			Heuristic: true,
		},
		Rule{
			Name:      CategoryDateOfBirth,
			Pattern:   dobPattern,
			Replace:   staticToken(TokenDOB),
			Heuristic: true,
		},
		Rule{
			Name:      CategoryIPAddress,
			Pattern:   ipPattern,
			Replace:   staticToken(TokenIP),
			Heuristic: true,
		},
	)

	for _, custom := range cfg.CustomRules {
		pattern, err := regexp.Compile(custom.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile custom rule %s: %w", custom.Name, err)
		}
		rules = append(rules, Rule{
			Name:      custom.Name,
			Pattern:   pattern,
			Replace:   staticToken(custom.Token),
			Heuristic: true,
		})
	}

	return rules, nil
}

// Registry is the ordered catalog of PII rules with per-rule enablement.
// Enablement may be toggled at runtime, config hot-reload does this, so
// reads go through a snapshot.
type Registry struct {
	rules   []Rule
	enabled map[string]bool
	mu      sync.RWMutex
}

// NewRegistry builds the catalog and applies the configured enable and
// disable lists.
func NewRegistry(cfg config.ScrubConfig, cache *anonymize.Cache) (*Registry, error) {
	rules, err := DefaultRules(cfg, cache)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		rules:   rules,
		enabled: make(map[string]bool, len(rules)),
	}

	if err := r.configure(cfg.Rules, cfg.Disabled); err != nil {
		return nil, err
	}

	return r, nil
}

// configure enables/disables rules based on configuration
func (r *Registry) configure(enable, disable []string) error {
	// Disable all rules by default
	for _, rule := range r.rules {
		r.enabled[rule.Name] = false
	}

	// Enable specified rules
	for _, name := range enable {
		if name == "all" {
			for _, rule := range r.rules {
				r.enabled[rule.Name] = true
			}
			continue
		}

		if err := r.Enable(name); err != nil {
			return err
		}
	}

	// Apply explicit disables last so "all" plus a disable list works
	for _, name := range disable {
		if err := r.Disable(name); err != nil {
			return err
		}
	}

	return nil
}

// Enable enables a specific rule
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range r.rules {
		if rule.Name == name {
			r.enabled[name] = true
			return nil
		}
	}
	return fmt.Errorf("unknown rule: %s", name)
}

// Disable disables a specific rule
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.enabled[name]; !exists {
		return fmt.Errorf("unknown rule: %s", name)
	}
	r.enabled[name] = false
	return nil
}

// enabledSnapshot copies the enablement map so one scrub pass sees a
// stable rule set even while toggles land.
func (r *Registry) enabledSnapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make(map[string]bool, len(r.enabled))
	for name, on := range r.enabled {
		enabled[name] = on
	}
	return enabled
}

// Names returns all rule names in priority order
func (r *Registry) Names() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// EnabledNames returns enabled rule names in priority order
func (r *Registry) EnabledNames() []string {
	enabled := r.enabledSnapshot()

	var names []string
	for _, rule := range r.rules {
		if enabled[rule.Name] {
			names = append(names, rule.Name)
		}
	}
	return names
}
