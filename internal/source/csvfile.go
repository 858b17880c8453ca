package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// CSVReader reads emails from a CSV export. Two layouts are supported:
// a "message" column holding full RFC 822 text, or direct
// subject/from/body columns. Offsets index data rows.
type CSVReader struct {
	name     string
	path     string
	estimate int
	logger   *zap.Logger
}

// NewCSVReader creates a reader over the CSV file at cfg.Path.
func NewCSVReader(cfg config.SourceConfig, logger *zap.Logger) *CSVReader {
	return &CSVReader{
		name:     cfg.Name,
		path:     cfg.Path,
		estimate: cfg.Estimate,
		logger:   logger,
	}
}

// Name returns the configured source name.
func (r *CSVReader) Name() string { return r.name }

// Estimate returns the configured record count estimate.
func (r *CSVReader) Estimate() int { return r.estimate }

// Read parses the rows at positions [offset, offset+limit), skipping
// rows that fail to parse.
func (r *CSVReader) Read(ctx context.Context, offset, limit int) ([]corpus.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", r.path, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for skipped := 0; skipped < offset; skipped++ {
		if _, err := reader.Read(); err == io.EOF {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to skip to row %d of %s: %w", offset, r.path, err)
		}
	}

	var records []corpus.Record
	for consumed := 0; consumed < limit; consumed++ {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		row, err := reader.Read()
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

		record, err := r.fromRow(columns, row)
		if err != nil {
			r.logger.Warn("Skipping unreadable message",
				zap.String("source", r.name),
				zap.Int("row", offset+consumed),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *CSVReader) fromRow(columns map[string]int, row []string) (corpus.Record, error) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	if _, ok := columns["message"]; ok {
		return parseMessage(strings.NewReader(cell("message")), r.name)
	}

	return corpus.Record{
		Subject: strings.TrimSpace(cell("subject")),
		From:    strings.TrimSpace(cell("from")),
		Body:    cell("body"),
		Source:  r.name,
	}, nil
}
