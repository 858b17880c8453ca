package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

// Store persists scrubbed batches to Postgres so downstream jobs can
// query them without re-reading rotation output files.
type Store struct {
	db     *sqlx.DB
	config config.WarehouseConfig
	logger *zap.Logger
}

// NewStore connects to Postgres and ensures the schema exists.
func NewStore(cfg config.WarehouseConfig, logger *zap.Logger) (*Store, error) {
	logger.Info("Connecting to warehouse",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := &Store{
		db:     db,
		config: cfg,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize warehouse: %w", err)
	}

	logger.Info("Warehouse store initialized",
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("batch_size", cfg.BatchSize))

	return store, nil
}

// initialize verifies connectivity and creates the schema if needed.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS scrubbed_emails (
		id BIGSERIAL PRIMARY KEY,
		fingerprint TEXT NOT NULL UNIQUE,
		rotation INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_scrubbed_emails_rotation ON scrubbed_emails (rotation);
	CREATE INDEX IF NOT EXISTS idx_scrubbed_emails_source ON scrubbed_emails (source);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// StoreBatch inserts the records emitted by one rotation. Records are
// keyed by the fingerprint of their scrubbed content, so records already
// stored by an earlier rotation are counted as duplicates and left
// untouched. Inserts are chunked by the configured batch size.
func (s *Store) StoreBatch(ctx context.Context, rotation int, records []corpus.Record) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	if len(records) == 0 {
		return result, nil
	}

	chunkSize := s.config.BatchSize
	if chunkSize <= 0 {
		chunkSize = len(records)
	}

	for begin := 0; begin < len(records); begin += chunkSize {
		end := begin + chunkSize
		if end > len(records) {
			end = len(records)
		}

		inserted, err := s.insertChunk(ctx, rotation, records[begin:end])
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk at offset %d: %w", begin, err)
		}

		result.Inserted += inserted
		result.Duplicates += int64(end-begin) - inserted
	}

	result.Duration = time.Since(start)

	s.logger.Info("Batch stored in warehouse",
		zap.Int("rotation", rotation),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (s *Store) insertChunk(ctx context.Context, rotation int, records []corpus.Record) (int64, error) {
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*6)

	for i, record := range records {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6))
		valueArgs = append(valueArgs,
			record.Fingerprint(), rotation, record.Source,
			record.Subject, record.From, record.Body)
	}

	query := fmt.Sprintf(`
		INSERT INTO scrubbed_emails (fingerprint, rotation, source, subject, sender, body)
		VALUES %s
		ON CONFLICT (fingerprint) DO NOTHING`,
		strings.Join(valueStrings, ", "))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return inserted, nil
}

// StoreFile loads an emitted batch file and inserts it. The scheduler
// reports the output path of each rotation; this is the hook that turns
// that file into warehouse rows.
func (s *Store) StoreFile(ctx context.Context, rotation int, path string) (*BatchResult, error) {
	records, err := corpus.ReadBatch(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", path, err)
	}
	return s.StoreBatch(ctx, rotation, records)
}

// GetStats returns row counts for the status endpoints.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT source),
		       COALESCE(MAX(rotation), 0)
		FROM scrubbed_emails`).Scan(&stats.TotalEmails, &stats.Sources, &stats.LastRotation)
	if err != nil {
		return nil, fmt.Errorf("failed to get warehouse stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides credentials in connection strings for logging.
func maskDatabaseURL(url string) string {
	if idx := strings.Index(url, "@"); idx > 0 {
		if protoIdx := strings.Index(url, "://"); protoIdx > 0 {
			proto := url[:protoIdx+3]
			rest := url[protoIdx+3:]
			if atIdx := strings.Index(rest, "@"); atIdx > 0 {
				credentials := rest[:atIdx]
				if colonIdx := strings.Index(credentials, ":"); colonIdx > 0 {
					masked := credentials[:colonIdx] + ":****"
					return proto + masked + rest[atIdx:]
				}
			}
		}
	}
	return url
}
