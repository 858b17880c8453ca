package source

import (
	"context"

	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// Reader pulls records from a single corpus source in a stable order.
//
// Offsets index the source's underlying items (files, messages, rows),
// so a reader can resume where an earlier run stopped. Items inside the
// requested window that fail to parse are skipped, which means Read may
// return fewer records than limit even before the source is exhausted.
type Reader interface {
	// Name returns the configured source name.
	Name() string

	// Estimate returns the configured record count estimate, or 0 when
	// the corpus size is unknown.
	Estimate() int

	// Read returns up to limit records starting at offset. An exhausted
	// source returns an empty slice and no error.
	Read(ctx context.Context, offset, limit int) ([]corpus.Record, error)
}
