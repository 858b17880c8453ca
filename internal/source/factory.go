package source

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
)

// New builds a reader for one configured source.
func New(cfg config.SourceConfig, logger *zap.Logger) (Reader, error) {
	switch cfg.Type {
	case "eml":
		return NewEMLReader(cfg, logger), nil
	case "mbox":
		return NewMboxReader(cfg, logger), nil
	case "csv":
		return NewCSVReader(cfg, logger), nil
	case "json":
		return NewJSONReader(cfg, logger), nil
	case "parquet":
		return NewParquetReader(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// NewAll builds readers for every configured source, preserving the
// configured order. The order defines rotation positions, so it must
// stay stable across runs.
func NewAll(cfgs []config.SourceConfig, logger *zap.Logger) ([]Reader, error) {
	readers := make([]Reader, 0, len(cfgs))
	for _, cfg := range cfgs {
		reader, err := New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		readers = append(readers, reader)
	}
	return readers, nil
}
