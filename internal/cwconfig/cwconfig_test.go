package cwconfig

import (
	"os"
	"testing"
)

func TestLoad_MissingReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := Load(dir)
	if cfg.NudgeIntervalSeconds != DefaultAgentNudgeInterval {
		t.Errorf("NudgeIntervalSeconds = %d, want %d", cfg.NudgeIntervalSeconds, DefaultAgentNudgeInterval)
	}
	if cfg.SkipPermissions || cfg.YoloMode || cfg.Parallel {
		t.Errorf("expected all-false defaults, got %+v", cfg)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Config{SkipPermissions: true, YoloMode: true, Parallel: true, NudgeIntervalSeconds: 120}
	if err := Save(dir, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(dir)
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoad_MalformedTreatedAsDefault(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Config{NudgeIntervalSeconds: 42}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Corrupt the file.
	if err := os.WriteFile(path(dir), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := Load(dir)
	if cfg.NudgeIntervalSeconds != DefaultAgentNudgeInterval {
		t.Errorf("NudgeIntervalSeconds = %d after corrupting the file, want default applied", cfg.NudgeIntervalSeconds)
	}
}

func TestLoad_ZeroIntervalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Config{NudgeIntervalSeconds: 0}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg := Load(dir)
	if cfg.NudgeIntervalSeconds != DefaultAgentNudgeInterval {
		t.Errorf("NudgeIntervalSeconds = %d, want %d", cfg.NudgeIntervalSeconds, DefaultAgentNudgeInterval)
	}
}
