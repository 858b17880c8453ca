package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// JSONReader reads emails from a JSON file holding either a single
// array of records or one record per line. The file is streamed, never
// loaded whole; the large exports run to hundreds of megabytes.
// Offsets index records.
type JSONReader struct {
	name     string
	path     string
	estimate int
	logger   *zap.Logger
}

// NewJSONReader creates a reader over the JSON file at cfg.Path.
func NewJSONReader(cfg config.SourceConfig, logger *zap.Logger) *JSONReader {
	return &JSONReader{
		name:     cfg.Name,
		path:     cfg.Path,
		estimate: cfg.Estimate,
		logger:   logger,
	}
}

// Name returns the configured source name.
func (r *JSONReader) Name() string { return r.name }

// Estimate returns the configured record count estimate.
func (r *JSONReader) Estimate() int { return r.estimate }

// Read decodes the records at positions [offset, offset+limit). A
// decode error mid-stream ends the read with whatever was collected,
// since a corrupt JSON stream cannot be resynchronized.
func (r *JSONReader) Read(ctx context.Context, offset, limit int) ([]corpus.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer file.Close()

	buffered := bufio.NewReaderSize(file, 64*1024)
	first, err := peekValueByte(buffered)
	if err != nil {
		return nil, nil
	}

	decoder := json.NewDecoder(buffered)
	if first == '[' {
		if _, err := decoder.Token(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", r.path, err)
		}
	}

	for skipped := 0; skipped < offset && decoder.More(); skipped++ {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to skip to record %d of %s: %w", offset, r.path, err)
		}
	}

	var records []corpus.Record
	for consumed := 0; consumed < limit && decoder.More(); consumed++ {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		var record corpus.Record
		if err := decoder.Decode(&record); err != nil {
			r.logger.Warn("Stopping at undecodable record",
				zap.String("source", r.name),
				zap.Int("record", offset+consumed),
				zap.Error(err))
			break
		}
		record.Source = r.name
		records = append(records, record)
	}

	return records, nil
}

// peekValueByte returns the first non-whitespace byte without
// consuming it, distinguishing array files from line-delimited ones.
func peekValueByte(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := r.Discard(1); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}
