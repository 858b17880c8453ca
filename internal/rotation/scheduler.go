package rotation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"github.com/zeroinbox/mailscrub/internal/privacy"
	"github.com/zeroinbox/mailscrub/internal/source"
)

// ErrRotationInProgress is returned by TryRunRotation when another
// rotation holds the scheduler.
var ErrRotationInProgress = errors.New("rotation already in progress")

// Notifier receives rotation lifecycle events. Calls happen inline on
// the rotation goroutine, so implementations must not block.
type Notifier interface {
	RotationStarted(rotation, batchSize int)
	SourceAdvanced(rotation int, source string, offset, pulled int)
	RotationCompleted(result Result)
}

// Result summarizes one completed rotation.
type Result struct {
	Rotation    int            `json:"rotation"`
	BatchSize   int            `json:"batch_size"`
	NewEmails   int            `json:"new_emails"`
	Duplicates  int            `json:"duplicates"`
	Dropped     int            `json:"dropped"`
	Sources     map[string]int `json:"sources"`
	ScrubCounts map[string]int `json:"scrub_counts"`
	OutputPath  string         `json:"output_path,omitempty"`
	Coverage    float64        `json:"coverage"`
	Duration    time.Duration  `json:"duration"`
}

// Scheduler assembles one bounded batch per rotation, walking the
// configured sources in a rotated order so no source monopolizes early
// rotations. It owns the coverage state for the life of the process.
type Scheduler struct {
	cfg      config.RotationConfig
	maxBody  int
	sources  []source.Reader
	scrubber *privacy.Scrubber
	state    *State
	limiter  *rate.Limiter
	notifier Notifier
	logger   *logger.Logger

	// Serializes rotations. State is mutated in memory for the whole
	// rotation and replaced wholesale on disk at the end.
	mu sync.Mutex
}

// NewScheduler creates a scheduler over the given sources and state.
func NewScheduler(cfg config.RotationConfig, maxBody int, sources []source.Reader, scrubber *privacy.Scrubber, state *State, log *logger.Logger) *Scheduler {
	var limiter *rate.Limiter
	if cfg.ScanRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ScanRate), cfg.ScanRate)
	}

	return &Scheduler{
		cfg:      cfg,
		maxBody:  maxBody,
		sources:  sources,
		scrubber: scrubber,
		state:    state,
		limiter:  limiter,
		logger:   log,
	}
}

// SetNotifier registers a lifecycle event sink. Must be called before
// the first rotation.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// RunRotation executes one full rotation, blocking until any rotation
// already in flight finishes first.
func (s *Scheduler) RunRotation(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx)
}

// TryRunRotation executes one rotation unless another is in flight, in
// which case it returns ErrRotationInProgress immediately.
func (s *Scheduler) TryRunRotation(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrRotationInProgress
	}
	defer s.mu.Unlock()
	return s.runLocked(ctx)
}

func (s *Scheduler) runLocked(ctx context.Context) (result *Result, err error) {
	start := time.Now()

	// A rotation is all-or-nothing. In-memory mutations are thrown away
	// on failure by reloading the last persisted state, so the next run
	// redoes this rotation instead of skipping records it never emitted.
	defer func() {
		if err != nil {
			s.rollback()
		}
	}()

	s.state.RotationNumber++
	rotation := s.state.RotationNumber

	s.logger.Info("Starting rotation",
		zap.Int("rotation", rotation),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Float64("coverage_pct", s.coverage()))
	if s.notifier != nil {
		s.notifier.RotationStarted(rotation, s.cfg.BatchSize)
	}

	batch, pulled, err := s.assemble(ctx, rotation)
	if err != nil {
		return nil, err
	}

	emitted, stats, err := s.process(ctx, batch)
	if err != nil {
		return nil, err
	}

	s.state.Metrics.TotalProcessed += len(batch)
	s.state.RecordRun(len(emitted), stats.newEmails)

	if err := s.state.Persist(s.cfg.StateFile); err != nil {
		return nil, fmt.Errorf("rotation %d not recorded: %w", rotation, err)
	}

	outputPath, err := s.emit(rotation, emitted)
	if err != nil {
		return nil, err
	}

	// Mirror failures degrade to local-only mappings; minting is
	// deterministic so the same pseudonyms come back next run.
	if err := s.scrubber.FlushCache(ctx); err != nil {
		s.logger.Warn("Failed to flush pseudonym mappings", zap.Error(err))
	}

	result = &Result{
		Rotation:    rotation,
		BatchSize:   len(emitted),
		NewEmails:   stats.newEmails,
		Duplicates:  stats.duplicates,
		Dropped:     stats.dropped,
		Sources:     pulled,
		ScrubCounts: stats.scrubCounts,
		OutputPath:  outputPath,
		Coverage:    s.coverage(),
		Duration:    time.Since(start),
	}

	s.logger.Info("Rotation complete",
		zap.Int("rotation", rotation),
		zap.Int("batch_size", result.BatchSize),
		zap.Int("new_emails", result.NewEmails),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("dropped", result.Dropped),
		zap.Float64("coverage_pct", result.Coverage),
		zap.String("output", outputPath),
		zap.Duration("duration", result.Duration))
	if s.notifier != nil {
		s.notifier.RotationCompleted(*result)
	}

	return result, nil
}

// assemble walks the sources in this rotation's effective order and
// pulls records until the batch is full or every source is exhausted.
func (s *Scheduler) assemble(ctx context.Context, rotation int) ([]corpus.Record, map[string]int, error) {
	var batch []corpus.Record
	pulled := make(map[string]int, len(s.sources))

	for _, reader := range rotatedOrder(s.sources, rotation) {
		remaining := s.cfg.BatchSize - len(batch)
		if remaining <= 0 {
			break
		}

		offset := s.state.Offset(reader.Name())
		records, err := reader.Read(ctx, offset, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			// An unreachable source contributes what it managed to
			// return and the rotation carries on with the others.
			s.logger.Warn("Source read failed",
				zap.String("source", reader.Name()),
				zap.Int("offset", offset),
				zap.Error(err))
		}

		s.state.Advance(reader.Name(), len(records))
		pulled[reader.Name()] = len(records)
		batch = append(batch, records...)

		s.logger.Debug("Source sampled",
			zap.String("source", reader.Name()),
			zap.Int("offset", offset),
			zap.Int("pulled", len(records)),
			zap.Int("batch_len", len(batch)))
		if s.notifier != nil {
			s.notifier.SourceAdvanced(rotation, reader.Name(), offset+len(records), len(records))
		}
	}

	return batch, pulled, nil
}

type batchStats struct {
	newEmails   int
	duplicates  int
	dropped     int
	scrubCounts map[string]int
}

// process fingerprints each raw record, scrubs it, and drops records
// left with neither subject nor sender. Fingerprints are taken before
// scrubbing so identity never depends on the active rule set.
func (s *Scheduler) process(ctx context.Context, batch []corpus.Record) ([]corpus.Record, batchStats, error) {
	stats := batchStats{scrubCounts: make(map[string]int)}
	emitted := make([]corpus.Record, 0, len(batch))

	for _, record := range batch {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, stats, err
			}
		}

		if s.state.Mark(record.Fingerprint()) {
			stats.newEmails++
		} else {
			stats.duplicates++
		}

		record.Truncate(s.maxBody)
		subject := s.scrubber.Scrub(record.Subject)
		from := s.scrubber.Scrub(record.From)
		body := s.scrubber.Scrub(record.Body)
		record.Subject, record.From, record.Body = subject.Text, from.Text, body.Text
		for _, counts := range []map[string]int{subject.Counts, from.Counts, body.Counts} {
			for category, n := range counts {
				stats.scrubCounts[category] += n
			}
		}

		if record.Blank() {
			stats.dropped++
			continue
		}
		record.ApplyDefaults()
		emitted = append(emitted, record)
	}

	return emitted, stats, nil
}

// emit writes the scrubbed batch to the output directory. An empty
// batch produces no file.
func (s *Scheduler) emit(rotation int, records []corpus.Record) (string, error) {
	if len(records) == 0 {
		s.logger.Info("Empty batch, nothing to emit", zap.Int("rotation", rotation))
		return "", nil
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("rotation_%03d.%s", rotation, s.cfg.OutputFormat))
	switch s.cfg.OutputFormat {
	case "parquet":
		if err := corpus.WriteParquet(path, records); err != nil {
			return "", err
		}
	default:
		if err := corpus.WriteJSON(path, records); err != nil {
			return "", err
		}
	}

	return path, nil
}

// rollback discards in-memory mutations after a failed rotation by
// reloading the last persisted state.
func (s *Scheduler) rollback() {
	reloaded, err := LoadState(s.cfg.StateFile)
	if err != nil {
		s.logger.Error("Failed to reload state after aborted rotation", zap.Error(err))
		return
	}
	s.state = reloaded
}

// coverage returns the fraction of the estimated corpus uniquely
// processed so far, as a percentage.
func (s *Scheduler) coverage() float64 {
	total := 0
	for _, reader := range s.sources {
		total += reader.Estimate()
	}
	if total == 0 {
		return 0
	}
	return float64(s.state.UniqueProcessed()) / float64(total) * 100
}

// Rotation returns the number of the last completed rotation.
func (s *Scheduler) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RotationNumber
}

// Report builds a coverage report from the current state.
func (s *Scheduler) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildReport(s.state, s.sources, s.cfg.BatchSize)
}

// rotatedOrder returns the sources rotated so that the source at index
// rotation mod len(sources) comes first.
func rotatedOrder(sources []source.Reader, rotation int) []source.Reader {
	if len(sources) == 0 {
		return nil
	}
	start := rotation % len(sources)
	order := make([]source.Reader, 0, len(sources))
	order = append(order, sources[start:]...)
	order = append(order, sources[:start]...)
	return order
}
