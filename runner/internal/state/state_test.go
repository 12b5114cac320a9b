package state

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingIsZeroValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "runs", "run_1"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.RunID != "" {
		t.Fatalf("expected zero snapshot, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_1")
	want := Snapshot{
		RunID:           "run_1",
		CapabilityToken: "tok",
		AgentID:         "host-abcd1234",
		WorkerType:      "claude",
		WorkingDir:      "/work",
		Autonomous:      true,
		Model:           "claude-opus-4",
		LastSequence:    7,
	}
	if err := Save(dir, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestSaveOverwritesPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Snapshot{RunID: "run_1", LastSequence: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(dir, Snapshot{RunID: "run_1", LastSequence: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastSequence != 2 {
		t.Fatalf("expected last sequence 2, got %d", got.LastSequence)
	}
}
