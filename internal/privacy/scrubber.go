package privacy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zeroinbox/mailscrub/internal/anonymize"
	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"go.uber.org/zap"
)

// Scrubber applies the pattern registry to free text, routing
// pseudonymization categories through the anonymization cache. The cache is
// owned by the scrubber from construction on.
type Scrubber struct {
	registry *Registry
	cache    *anonymize.Cache
	sweeps   []*regexp.Regexp
	logger   *logger.Logger
}

// NewScrubber creates a scrubber from configuration. Ownership of cache
// passes to the scrubber.
func NewScrubber(cfg config.ScrubConfig, cache *anonymize.Cache, log *logger.Logger) (*Scrubber, error) {
	registry, err := NewRegistry(cfg, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern registry: %w", err)
	}

	// Residual sweep for address fragments on home domains that the
	// address rule could not claim (malformed locals, bare mentions).
	sweeps := make([]*regexp.Regexp, 0, len(cfg.HomeDomains))
	for _, domain := range cfg.HomeDomains {
		re, err := regexp.Compile(`(?i)@(\w+\.)?` + regexp.QuoteMeta(domain) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile home domain sweep for %s: %w", domain, err)
		}
		sweeps = append(sweeps, re)
	}

	s := &Scrubber{
		registry: registry,
		cache:    cache,
		sweeps:   sweeps,
		logger:   log,
	}

	log.Info("Scrubber initialized",
		zap.Int("total_rules", len(registry.rules)),
		zap.Int("enabled_rules", len(registry.EnabledNames())),
		zap.Int("home_domains", len(sweeps)),
	)

	return s, nil
}

// match is one accepted rule hit against the original text.
type match struct {
	start, end int
	rule       *Rule
	groups     []string
}

// findMatches collects non-overlapping matches in rule priority order. All
// rules match against the original text only, so replacement output can
// never be re-matched by a later rule.
func (s *Scrubber) findMatches(text string) []match {
	var accepted []match

	enabled := s.registry.enabledSnapshot()
	for i := range s.registry.rules {
		rule := &s.registry.rules[i]
		if !enabled[rule.Name] {
			continue
		}

		for _, idx := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[0], idx[1]
			if overlapsAny(accepted, start, end) {
				continue
			}
			if rule.Skip != nil && rule.Skip.MatchString(text[start:end]) {
				continue
			}

			groups := make([]string, 0, len(idx)/2)
			for g := 0; g < len(idx); g += 2 {
				if idx[g] < 0 {
					groups = append(groups, "")
				} else {
					groups = append(groups, text[idx[g]:idx[g+1]])
				}
			}

			accepted = append(accepted, match{start: start, end: end, rule: rule, groups: groups})
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

func overlapsAny(accepted []match, start, end int) bool {
	for _, a := range accepted {
		if start < a.end && a.start < end {
			return true
		}
	}
	return false
}

// Scrub de-identifies text and reports per-category match counts. It is
// deterministic for a given cache state and idempotent: scrubbing already
// scrubbed text yields the text unchanged with zero counts.
func (s *Scrubber) Scrub(text string) ScrubResult {
	counts := make(map[string]int)
	if text == "" {
		return ScrubResult{Text: text, Counts: counts}
	}

	matches := s.findMatches(text)

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, m := range matches {
		b.WriteString(text[cursor:m.start])
		b.WriteString(m.rule.Replace(m.groups))
		counts[m.rule.Name]++
		cursor = m.end
	}
	b.WriteString(text[cursor:])

	out := b.String()
	for _, sweep := range s.sweeps {
		out = sweep.ReplaceAllString(out, "@example.com")
	}

	if len(counts) > 0 {
		s.logger.Debug("PII scrubbed", zap.Any("counts", counts))
	}

	return ScrubResult{Text: out, Counts: counts}
}

// Detect reports per-category match counts without modifying the text. Used
// to audit corpora that are supposed to be clean.
func (s *Scrubber) Detect(text string) map[string]int {
	counts := make(map[string]int)
	for _, m := range s.findMatches(text) {
		counts[m.rule.Name]++
	}
	return counts
}

// EnableRule enables a specific rule
func (s *Scrubber) EnableRule(name string) error {
	if err := s.registry.Enable(name); err != nil {
		return err
	}
	s.logger.Info("Scrub rule enabled", zap.String("rule", name))
	return nil
}

// DisableRule disables a specific rule
func (s *Scrubber) DisableRule(name string) error {
	if err := s.registry.Disable(name); err != nil {
		return err
	}
	s.logger.Info("Scrub rule disabled", zap.String("rule", name))
	return nil
}

// EnabledRules returns enabled rule names in priority order
func (s *Scrubber) EnabledRules() []string {
	return s.registry.EnabledNames()
}

// CacheStats returns distinct-identifier counts per pseudonym category.
func (s *Scrubber) CacheStats() map[string]int {
	return s.cache.Stats()
}

// FlushCache persists freshly minted pseudonym mappings to the mirror, if
// one is configured.
func (s *Scrubber) FlushCache(ctx context.Context) error {
	return s.cache.Flush(ctx)
}

// Close releases the cache and its mirror connection.
func (s *Scrubber) Close() error {
	return s.cache.Close()
}
