package anonymize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mapping is one resolved identifier -> pseudonym pair.
type Mapping struct {
	Category   string
	Normalized string
	Pseudonym  string
}

// Mirror is an optional persistent pseudonym store consulted before minting,
// so separate runs can keep referential integrity for the same identifier.
type Mirror interface {
	Lookup(ctx context.Context, category, normalized string) (string, bool, error)
	StoreBatch(ctx context.Context, mappings []Mapping) error
	Close() error
}

// MintFunc builds a pseudonym from a normalized identifier and its
// fixed-width hex fingerprint. Implementations must be deterministic.
type MintFunc func(normalized, fingerprint string) string

const mirrorTimeout = 2 * time.Second

// Cache resolves raw identifiers to stable pseudonyms, one namespace per
// category. Identical normalized input always yields the identical pseudonym
// within a run; distinct inputs are guaranteed distinct pseudonyms within a
// run (fingerprint collisions are resolved by re-minting with an attempt
// counter). Not safe for concurrent use: a cache belongs to exactly one
// scrubber for the lifetime of one process.
type Cache struct {
	salt     string
	mirror   Mirror
	logger   *zap.Logger
	mappings map[string]map[string]string // category -> normalized -> pseudonym
	taken    map[string]map[string]string // category -> pseudonym -> normalized
	fresh    []Mapping                    // minted since last Flush
}

// New creates an empty cache. mirror may be nil.
func New(salt string, mirror Mirror, logger *zap.Logger) *Cache {
	return &Cache{
		salt:     salt,
		mirror:   mirror,
		logger:   logger,
		mappings: make(map[string]map[string]string),
		taken:    make(map[string]map[string]string),
	}
}

// Normalize case-folds and trims an identifier so resolution is insensitive
// to casing and surrounding whitespace.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Resolve returns the stable pseudonym for raw within category, minting and
// recording a new one on first sight. width is the hex fingerprint width
// handed to mint.
func (c *Cache) Resolve(category, raw string, width int, mint MintFunc) string {
	norm := Normalize(raw)

	if p, ok := c.mappings[category][norm]; ok {
		return p
	}

	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		p, ok, err := c.mirror.Lookup(ctx, category, norm)
		cancel()
		if err != nil {
			c.logger.Warn("Pseudonym mirror lookup failed",
				zap.String("category", category),
				zap.Error(err))
		} else if ok {
			c.record(category, norm, p, false)
			return p
		}
	}

	for attempt := 0; ; attempt++ {
		p := mint(norm, c.Fingerprint(norm, attempt, width))
		owner, exists := c.taken[category][p]
		if !exists || owner == norm {
			c.record(category, norm, p, true)
			return p
		}
	}
}

// Fingerprint derives a deterministic hex fingerprint of width characters
// from a normalized identifier using the process-wide salt. attempt > 0
// perturbs the input and is used only to resolve pseudonym collisions.
func (c *Cache) Fingerprint(norm string, attempt, width int) string {
	input := norm + c.salt
	if attempt > 0 {
		input = fmt.Sprintf("%s#%d", input, attempt)
	}
	sum := sha256.Sum256([]byte(input))
	fp := hex.EncodeToString(sum[:])
	if width > len(fp) {
		width = len(fp)
	}
	return fp[:width]
}

func (c *Cache) record(category, norm, pseudonym string, minted bool) {
	if c.mappings[category] == nil {
		c.mappings[category] = make(map[string]string)
		c.taken[category] = make(map[string]string)
	}
	c.mappings[category][norm] = pseudonym
	c.taken[category][pseudonym] = norm
	if minted {
		c.fresh = append(c.fresh, Mapping{Category: category, Normalized: norm, Pseudonym: pseudonym})
	}
}

// Size returns the number of distinct identifiers resolved for a category.
func (c *Cache) Size(category string) int {
	return len(c.mappings[category])
}

// Stats returns distinct-identifier counts per category.
func (c *Cache) Stats() map[string]int {
	stats := make(map[string]int, len(c.mappings))
	for category, m := range c.mappings {
		stats[category] = len(m)
	}
	return stats
}

// Flush persists mappings minted since the last flush to the mirror. It is a
// no-op without a mirror.
func (c *Cache) Flush(ctx context.Context) error {
	if c.mirror == nil || len(c.fresh) == 0 {
		return nil
	}
	if err := c.mirror.StoreBatch(ctx, c.fresh); err != nil {
		return fmt.Errorf("failed to flush pseudonym mappings: %w", err)
	}
	c.fresh = c.fresh[:0]
	return nil
}

// Close releases the mirror connection, if any.
func (c *Cache) Close() error {
	if c.mirror != nil {
		return c.mirror.Close()
	}
	return nil
}
