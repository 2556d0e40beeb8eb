package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"mem-os/pkg/migration"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "mem-os.json"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GovernanceMode != "detect_only" {
		t.Fatalf("expected default governance_mode detect_only, got %s", cfg.GovernanceMode)
	}
	if cfg.Recall.Backend != "bm25" {
		t.Fatalf("expected default recall.backend bm25, got %s", cfg.Recall.Backend)
	}
	if cfg.Abstention.Threshold != 0.20 {
		t.Fatalf("expected default abstention.threshold 0.20, got %v", cfg.Abstention.Threshold)
	}
	if cfg.ProposalBudget.PerRun != 5 || cfg.ProposalBudget.PerDay != 25 {
		t.Fatalf("unexpected proposal_budget defaults: %+v", cfg.ProposalBudget)
	}
}

func TestLoadPreservesExplicitValuesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem-os.json")
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  migration.CurrentVersion,
		"governance_mode": "propose",
		"abstention":      map[string]interface{}{"threshold": 0.35},
	})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GovernanceMode != "propose" {
		t.Fatalf("expected explicit governance_mode preserved, got %s", cfg.GovernanceMode)
	}
	if cfg.Abstention.Threshold != 0.35 {
		t.Fatalf("expected explicit abstention.threshold preserved, got %v", cfg.Abstention.Threshold)
	}
	if cfg.Recall.Backend != "bm25" {
		t.Fatalf("expected default fill for unset recall.backend, got %s", cfg.Recall.Backend)
	}
}

func TestLoadPreservesUnknownKeysInExtra(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem-os.json")
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version": migration.CurrentVersion,
		"future_feature": map[string]interface{}{"enabled": true},
	})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Extra == nil || cfg.Extra["future_feature"] == nil {
		t.Fatalf("expected future_feature preserved in Extra, got %+v", cfg.Extra)
	}
}

func TestSaveRoundTripsExtraKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem-os.json")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Extra = map[string]interface{}{"future_feature": true}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Extra["future_feature"] != true {
		t.Fatalf("expected future_feature round-tripped, got %+v", reloaded.Extra)
	}
}

func TestLoadMigratesSchemaBeforeApplyingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem-os.json")
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":       "2.0.0",
		"self_correcting_mode": "enforce",
	})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GovernanceMode != "enforce" {
		t.Fatalf("expected governance_mode migrated from self_correcting_mode, got %s", cfg.GovernanceMode)
	}
}
