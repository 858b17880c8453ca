package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// mbox lines can carry entire encoded attachments.
const maxMboxLine = 4 * 1024 * 1024

// MboxReader reads a single mbox file where messages are separated by
// "From " postmark lines. Offsets index messages within the file.
type MboxReader struct {
	name     string
	path     string
	estimate int
	logger   *zap.Logger
}

// NewMboxReader creates a reader over the mbox file at cfg.Path.
func NewMboxReader(cfg config.SourceConfig, logger *zap.Logger) *MboxReader {
	return &MboxReader{
		name:     cfg.Name,
		path:     cfg.Path,
		estimate: cfg.Estimate,
		logger:   logger,
	}
}

// Name returns the configured source name.
func (r *MboxReader) Name() string { return r.name }

// Estimate returns the configured record count estimate.
func (r *MboxReader) Estimate() int { return r.estimate }

// Read scans the mbox and parses the messages at positions
// [offset, offset+limit). The file is rescanned from the top on each
// call; the postmark scan is cheap next to parsing and scrubbing.
func (r *MboxReader) Read(ctx context.Context, offset, limit int) ([]corpus.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxMboxLine)

	var (
		records []corpus.Record
		message strings.Builder
		index   = -1
		end     = offset + limit
	)

	flush := func() {
		if index < offset || index >= end || message.Len() == 0 {
			return
		}
		record, err := parseMessage(strings.NewReader(message.String()), r.name)
		if err != nil {
			r.logger.Warn("Skipping unreadable message",
				zap.String("source", r.name),
				zap.Int("message", index),
				zap.Error(err))
			return
		}
		records = append(records, record)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "From ") {
			flush()
			index++
			message.Reset()
			if index >= end {
				return records, nil
			}
			continue
		}

		if index >= offset && index < end {
			// Undo mbox From-quoting inside message bodies.
			if strings.HasPrefix(line, ">From ") {
				line = line[1:]
			}
			message.WriteString(line)
			message.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to scan %s: %w", r.path, err)
	}
	flush()

	return records, nil
}
