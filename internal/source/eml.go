package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// EMLReader reads a directory of individual .eml files. Files are
// consumed in lexical order so offsets stay stable between runs.
type EMLReader struct {
	name     string
	dir      string
	estimate int
	logger   *zap.Logger
}

// NewEMLReader creates a reader over the .eml files in cfg.Path.
func NewEMLReader(cfg config.SourceConfig, logger *zap.Logger) *EMLReader {
	return &EMLReader{
		name:     cfg.Name,
		dir:      cfg.Path,
		estimate: cfg.Estimate,
		logger:   logger,
	}
}

// Name returns the configured source name.
func (r *EMLReader) Name() string { return r.name }

// Estimate returns the configured record count estimate.
func (r *EMLReader) Estimate() int { return r.estimate }

// Read parses the files at positions [offset, offset+limit), skipping
// any that cannot be opened or parsed.
func (r *EMLReader) Read(ctx context.Context, offset, limit int) ([]corpus.Record, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.dir, err)
	}
	sort.Strings(files)

	if offset >= len(files) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(files) {
		end = len(files)
	}

	records := make([]corpus.Record, 0, end-offset)
	for _, path := range files[offset:end] {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		record, err := r.parseFile(path)
		if err != nil {
			r.logger.Warn("Skipping unreadable message",
				zap.String("source", r.name),
				zap.String("file", filepath.Base(path)),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *EMLReader) parseFile(path string) (corpus.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return corpus.Record{}, err
	}
	defer file.Close()

	return parseMessage(file, r.name)
}
