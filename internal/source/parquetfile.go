package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// ParquetReader reads emails from a Parquet file with subject, from and
// body columns. Offsets index rows.
type ParquetReader struct {
	name     string
	path     string
	estimate int
	logger   *zap.Logger
}

// NewParquetReader creates a reader over the Parquet file at cfg.Path.
func NewParquetReader(cfg config.SourceConfig, logger *zap.Logger) *ParquetReader {
	return &ParquetReader{
		name:     cfg.Name,
		path:     cfg.Path,
		estimate: cfg.Estimate,
		logger:   logger,
	}
}

// Name returns the configured source name.
func (r *ParquetReader) Name() string { return r.name }

// Estimate returns the configured record count estimate.
func (r *ParquetReader) Estimate() int { return r.estimate }

// Read returns the rows at positions [offset, offset+limit).
func (r *ParquetReader) Read(ctx context.Context, offset, limit int) ([]corpus.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	if int64(offset) >= reader.NumRows() {
		return nil, nil
	}
	if offset > 0 {
		if err := reader.SeekToRow(int64(offset)); err != nil {
			return nil, fmt.Errorf("failed to seek to row %d of %s: %w", offset, r.path, err)
		}
	}

	var records []corpus.Record
	for consumed := 0; consumed < limit; consumed++ {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		var record corpus.Record
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			r.logger.Warn("Skipping unreadable row",
				zap.String("source", r.name),
				zap.Int("row", offset+consumed),
				zap.Error(err))
			continue
		}
		record.Source = r.name
		records = append(records, record)
	}

	return records, nil
}
