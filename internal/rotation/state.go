package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AggregateMetrics carries corpus-wide counters accumulated across all
// rotations. The intent counters are filled by downstream labeling via
// RecordLabel; this module only stores them.
type AggregateMetrics struct {
	TotalProcessed int            `json:"total_processed"`
	Intents        map[string]int `json:"intents"`
	ConfidenceSum  float64        `json:"confidence_sum"`
	Fallbacks      int            `json:"fallbacks"`
}

// RunRecord is one completed rotation in the run history.
type RunRecord struct {
	Rotation  int       `json:"rotation"`
	Timestamp time.Time `json:"timestamp"`
	BatchSize int       `json:"batch_size"`
	NewEmails int       `json:"new_emails"`
}

// State is the persisted coverage tracker, one file per corpus project.
// It is owned by exactly one process; nothing here is safe for
// concurrent use.
type State struct {
	RotationNumber  int              `json:"rotation_number"`
	ProcessedHashes map[string]bool  `json:"processed_hashes"`
	SourceProgress  map[string]int   `json:"source_progress"`
	Metrics         AggregateMetrics `json:"aggregate_metrics"`
	RunHistory      []RunRecord      `json:"run_history"`
}

// NewState returns an empty coverage tracker.
func NewState() *State {
	return &State{
		ProcessedHashes: make(map[string]bool),
		SourceProgress:  make(map[string]int),
		Metrics: AggregateMetrics{
			Intents: make(map[string]int),
		},
	}
}

// LoadState reads the tracker from path. A missing file yields a fresh
// tracker. A corrupt file is an error: silently resetting coverage
// would reprocess the entire corpus as new.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	// Hand-edited or partial files can leave maps nil.
	if state.ProcessedHashes == nil {
		state.ProcessedHashes = make(map[string]bool)
	}
	if state.SourceProgress == nil {
		state.SourceProgress = make(map[string]int)
	}
	if state.Metrics.Intents == nil {
		state.Metrics.Intents = make(map[string]int)
	}

	return state, nil
}

// Persist atomically replaces the state file: the new state is written
// to a temp file in the same directory and renamed over the old one, so
// a crash mid-write never leaves a truncated tracker behind.
func (s *State) Persist(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file %s: %w", path, err)
	}

	return nil
}

// Mark records a fingerprint as processed and reports whether it was
// previously unseen.
func (s *State) Mark(fingerprint string) bool {
	if s.ProcessedHashes[fingerprint] {
		return false
	}
	s.ProcessedHashes[fingerprint] = true
	return true
}

// Seen reports whether a fingerprint was processed in any rotation.
func (s *State) Seen(fingerprint string) bool {
	return s.ProcessedHashes[fingerprint]
}

// Offset returns the persisted read position for a source.
func (s *State) Offset(source string) int {
	return s.SourceProgress[source]
}

// Advance moves a source's read position forward by n records.
func (s *State) Advance(source string, n int) {
	s.SourceProgress[source] += n
}

// UniqueProcessed returns the number of distinct fingerprints seen.
func (s *State) UniqueProcessed() int {
	return len(s.ProcessedHashes)
}

// RecordRun appends the rotation that just completed to the history.
func (s *State) RecordRun(batchSize, newEmails int) {
	s.RunHistory = append(s.RunHistory, RunRecord{
		Rotation:  s.RotationNumber,
		Timestamp: time.Now().UTC(),
		BatchSize: batchSize,
		NewEmails: newEmails,
	})
}

// RecordLabel folds one downstream labeling result into the aggregate
// metrics. Labeling happens outside this module.
func (s *State) RecordLabel(intent string, confidence float64, fallback bool) {
	s.Metrics.Intents[intent]++
	s.Metrics.ConfidenceSum += confidence
	if fallback {
		s.Metrics.Fallbacks++
	}
}
