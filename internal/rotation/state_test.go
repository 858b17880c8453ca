package rotation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadStateMissingFile(t *testing.T) {
	state, err := LoadState(filepath.Join(t.TempDir(), "rotation_state.json"))
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state.RotationNumber != 0 {
		t.Errorf("rotation_number = %d, want 0", state.RotationNumber)
	}
	if state.ProcessedHashes == nil || state.SourceProgress == nil || state.Metrics.Intents == nil {
		t.Error("fresh state has nil maps")
	}
}

func TestLoadStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotation_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := LoadState(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestLoadStatePartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotation_state.json")
	if err := os.WriteFile(path, []byte(`{"rotation_number": 3}`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	state, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state.RotationNumber != 3 {
		t.Errorf("rotation_number = %d, want 3", state.RotationNumber)
	}
	if state.ProcessedHashes == nil || state.SourceProgress == nil || state.Metrics.Intents == nil {
		t.Error("partial state left nil maps")
	}
}

func TestStatePersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotation_state.json")

	state := NewState()
	state.RotationNumber = 2
	state.Mark("abc123def456")
	state.Mark("fedcba654321")
	state.Advance("Inbox-001", 4200)
	state.Metrics.TotalProcessed = 9000
	state.RecordLabel("meeting", 0.92, false)
	state.RecordLabel("meeting", 0.40, true)
	state.RecordRun(5000, 4800)

	if err := state.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.RotationNumber != 2 {
		t.Errorf("rotation_number = %d, want 2", loaded.RotationNumber)
	}
	if !loaded.Seen("abc123def456") || !loaded.Seen("fedcba654321") {
		t.Error("fingerprints lost in round trip")
	}
	if loaded.Offset("Inbox-001") != 4200 {
		t.Errorf("offset = %d, want 4200", loaded.Offset("Inbox-001"))
	}
	if loaded.Metrics.TotalProcessed != 9000 {
		t.Errorf("total_processed = %d, want 9000", loaded.Metrics.TotalProcessed)
	}
	if loaded.Metrics.Intents["meeting"] != 2 || loaded.Metrics.Fallbacks != 1 {
		t.Errorf("metrics = %+v", loaded.Metrics)
	}
	if loaded.Metrics.ConfidenceSum < 1.31 || loaded.Metrics.ConfidenceSum > 1.33 {
		t.Errorf("confidence_sum = %f, want 1.32", loaded.Metrics.ConfidenceSum)
	}
	if len(loaded.RunHistory) != 1 || loaded.RunHistory[0].Rotation != 2 ||
		loaded.RunHistory[0].BatchSize != 5000 || loaded.RunHistory[0].NewEmails != 4800 {
		t.Errorf("run_history = %+v", loaded.RunHistory)
	}

	// Atomic replacement leaves no temp files behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".state-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStatePersistReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotation_state.json")

	first := NewState()
	first.RotationNumber = 1
	if err := first.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	second := NewState()
	second.RotationNumber = 2
	if err := second.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.RotationNumber != 2 {
		t.Errorf("rotation_number = %d, want 2", loaded.RotationNumber)
	}
}

func TestStatePersistFailureSurfaces(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	state := NewState()
	if err := state.Persist(filepath.Join(blocker, "state.json")); err == nil {
		t.Error("expected error persisting under a regular file")
	}
}

func TestStateMark(t *testing.T) {
	state := NewState()

	if !state.Mark("aaa111bbb222") {
		t.Error("first Mark should report new")
	}
	if state.Mark("aaa111bbb222") {
		t.Error("second Mark should report already seen")
	}
	if state.UniqueProcessed() != 1 {
		t.Errorf("unique = %d, want 1", state.UniqueProcessed())
	}
}
