// Package config loads and validates mem-os.json (spec §6.2), the
// single recognized-keys configuration document for a workspace.
// Grounded on internal/config/config.go load-then-
// default-then-override-then-validate pipeline, narrowed from YAML to
// JSON and wired through pkg/migration so schema migration always
// runs before defaults/overrides/validation see the document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/migration"
	"mem-os/pkg/types"
)

// knownTopLevelKeys mirrors every json tag in types.Config, used to
// split a loaded document into typed fields plus Extra (spec §6.2:
// "Unknown keys are preserved on rewrite").
var knownTopLevelKeys = map[string]bool{
	"version":              true,
	"workspace_path":       true,
	"governance_mode":      true,
	"self_correcting_mode": true,
	"auto_capture":         true,
	"auto_recall":          true,
	"recall":               true,
	"proposal_budget":      true,
	"compaction":           true,
	"abstention":           true,
	"defer_cooldown_days":  true,
	"dead_threshold_days":  true,
	"schema_version":       true,
}

// Load reads path (mem-os.json), migrates its schema in place if
// needed, unmarshals it into a types.Config, applies defaults and
// environment overrides, and validates the result. A missing file is
// not an error: Load returns a config built entirely from defaults and
// environment, matching "warn and continue with
// defaults" posture for an absent config file.
func Load(path string, logger *logrus.Logger) (*types.Config, error) {
	doc := migration.Document{}

	if _, err := os.Stat(path); err == nil {
		migrated, err := migration.LoadAndMigrate(path, logger)
		if err != nil {
			return nil, err
		}
		doc = migrated
	} else if logger != nil {
		logger.WithField("path", path).Warn("mem-os.json not found, using defaults")
	}

	cfg, err := fromDocument(doc)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromDocument unmarshals a migration.Document into a types.Config,
// routing every key it doesn't recognize into cfg.Extra.
func fromDocument(doc migration.Document) (*types.Config, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, memerrors.Parse("config", "load", "marshaling intermediate document").Wrap(err)
	}
	cfg := &types.Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, memerrors.Parse("config", "load", "parsing mem-os.json").Wrap(err)
	}

	extra := make(map[string]interface{})
	for k, v := range doc {
		if !knownTopLevelKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		cfg.Extra = extra
	}
	return cfg, nil
}

// toDocument is the inverse of fromDocument: marshal cfg's typed
// fields back to a map and merge Extra back in, for callers that need
// to rewrite mem-os.json (e.g. after a governance mode transition).
func toDocument(cfg *types.Config) (migration.Document, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, memerrors.IO("config", "save", "marshaling config").Wrap(err)
	}
	doc := migration.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, memerrors.IO("config", "save", "unmarshaling config to document").Wrap(err)
	}
	for k, v := range cfg.Extra {
		doc[k] = v
	}
	return doc, nil
}

// Save rewrites path with cfg, preserving any unrecognized keys
// carried in cfg.Extra (spec §6.2). Uses the same replace-on-rename
// write path migration uses for every other workspace document.
func Save(path string, cfg *types.Config) error {
	doc, err := toDocument(cfg)
	if err != nil {
		return err
	}
	return migration.WriteAtomic(path, doc)
}

// applyDefaults fills in zero-valued fields with spec §6.2's documented
// defaults, mirroring applyDefaults (fill-if-empty, never
// override an explicitly configured value).
func applyDefaults(cfg *types.Config) {
	if cfg.Version == "" {
		cfg.Version = migration.CurrentVersion
	}
	if cfg.GovernanceMode == "" {
		cfg.GovernanceMode = "detect_only"
	}
	if cfg.Recall.Backend == "" {
		cfg.Recall.Backend = "bm25"
	}
	if cfg.ProposalBudget.PerRun == 0 {
		cfg.ProposalBudget.PerRun = 5
	}
	if cfg.ProposalBudget.PerDay == 0 {
		cfg.ProposalBudget.PerDay = 25
	}
	if cfg.ProposalBudget.BacklogLimit == 0 {
		cfg.ProposalBudget.BacklogLimit = 100
	}
	if cfg.Compaction.ArchiveDays == 0 {
		cfg.Compaction.ArchiveDays = 90
	}
	if cfg.Compaction.SnapshotDays == 0 {
		cfg.Compaction.SnapshotDays = 30
	}
	if cfg.Compaction.LogDays == 0 {
		cfg.Compaction.LogDays = 180
	}
	if cfg.Compaction.SignalDays == 0 {
		cfg.Compaction.SignalDays = 60
	}
	if cfg.Abstention.Threshold == 0 {
		cfg.Abstention.Threshold = 0.20
	}
	if cfg.DeferCooldownDays == 0 {
		cfg.DeferCooldownDays = 14
	}
	if cfg.DeadThresholdDays == 0 {
		cfg.DeadThresholdDays = 120
	}
}

// applyEnvironmentOverrides lets every recognized key be overridden
// from the environment, MEMOS_-prefixed, matching a SSW_-prefixed
// override convention used for the same purpose elsewhere.
func applyEnvironmentOverrides(cfg *types.Config) {
	cfg.WorkspacePath = getEnvString("MEMOS_WORKSPACE_PATH", cfg.WorkspacePath)
	cfg.GovernanceMode = getEnvString("MEMOS_GOVERNANCE_MODE", cfg.GovernanceMode)
	cfg.AutoCapture = getEnvBool("MEMOS_AUTO_CAPTURE", cfg.AutoCapture)
	cfg.AutoRecall = getEnvBool("MEMOS_AUTO_RECALL", cfg.AutoRecall)
	cfg.Recall.Backend = getEnvString("MEMOS_RECALL_BACKEND", cfg.Recall.Backend)
	cfg.Recall.Vector.Provider = getEnvString("MEMOS_RECALL_VECTOR_PROVIDER", cfg.Recall.Vector.Provider)
	cfg.Recall.Vector.Model = getEnvString("MEMOS_RECALL_VECTOR_MODEL", cfg.Recall.Vector.Model)
	cfg.Recall.Vector.URL = getEnvString("MEMOS_RECALL_VECTOR_URL", cfg.Recall.Vector.URL)
	cfg.ProposalBudget.PerRun = getEnvInt("MEMOS_PROPOSAL_BUDGET_PER_RUN", cfg.ProposalBudget.PerRun)
	cfg.ProposalBudget.PerDay = getEnvInt("MEMOS_PROPOSAL_BUDGET_PER_DAY", cfg.ProposalBudget.PerDay)
	cfg.ProposalBudget.BacklogLimit = getEnvInt("MEMOS_PROPOSAL_BACKLOG_LIMIT", cfg.ProposalBudget.BacklogLimit)
	cfg.Compaction.ArchiveDays = getEnvInt("MEMOS_COMPACTION_ARCHIVE_DAYS", cfg.Compaction.ArchiveDays)
	cfg.Compaction.SnapshotDays = getEnvInt("MEMOS_COMPACTION_SNAPSHOT_DAYS", cfg.Compaction.SnapshotDays)
	cfg.Compaction.LogDays = getEnvInt("MEMOS_COMPACTION_LOG_DAYS", cfg.Compaction.LogDays)
	cfg.Compaction.SignalDays = getEnvInt("MEMOS_COMPACTION_SIGNAL_DAYS", cfg.Compaction.SignalDays)
	cfg.Abstention.Threshold = getEnvFloat("MEMOS_ABSTENTION_THRESHOLD", cfg.Abstention.Threshold)
	cfg.DeferCooldownDays = getEnvInt("MEMOS_DEFER_COOLDOWN_DAYS", cfg.DeferCooldownDays)
	cfg.DeadThresholdDays = getEnvInt("MEMOS_DEAD_THRESHOLD_DAYS", cfg.DeadThresholdDays)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// Validate enforces the constraints spec §6.2 implies for mem-os.json's
// recognized keys: closed enums, positive budgets, a threshold in
// [0,1]. Mirrors the reference ConfigValidator shape (accumulate every
// violation, then return one compound error) rather than failing fast
// on the first bad field.
func Validate(cfg *types.Config) error {
	var violations []string

	validModes := map[string]bool{"detect_only": true, "propose": true, "enforce": true}
	if !validModes[cfg.GovernanceMode] {
		violations = append(violations, fmt.Sprintf("invalid governance_mode: %q", cfg.GovernanceMode))
	}

	validBackends := map[string]bool{"bm25": true, "vector": true}
	if !validBackends[cfg.Recall.Backend] {
		violations = append(violations, fmt.Sprintf("invalid recall.backend: %q", cfg.Recall.Backend))
	}
	if cfg.Recall.Backend == "vector" && cfg.Recall.Vector.Provider == "" {
		violations = append(violations, "recall.vector.provider required when recall.backend is vector")
	}

	if cfg.ProposalBudget.PerRun <= 0 {
		violations = append(violations, "proposal_budget.per_run must be positive")
	}
	if cfg.ProposalBudget.PerDay <= 0 {
		violations = append(violations, "proposal_budget.per_day must be positive")
	}
	if cfg.ProposalBudget.BacklogLimit <= 0 {
		violations = append(violations, "proposal_budget.backlog_limit must be positive")
	}
	if cfg.ProposalBudget.PerRun > cfg.ProposalBudget.PerDay {
		violations = append(violations, "proposal_budget.per_run cannot exceed per_day")
	}

	for name, days := range map[string]int{
		"compaction.archive_days":  cfg.Compaction.ArchiveDays,
		"compaction.snapshot_days": cfg.Compaction.SnapshotDays,
		"compaction.log_days":      cfg.Compaction.LogDays,
		"compaction.signal_days":   cfg.Compaction.SignalDays,
	} {
		if days <= 0 {
			violations = append(violations, name+" must be positive")
		}
	}

	if cfg.Abstention.Threshold < 0 || cfg.Abstention.Threshold > 1 {
		violations = append(violations, fmt.Sprintf("abstention.threshold must be in [0,1], got %v", cfg.Abstention.Threshold))
	}

	if len(violations) == 0 {
		return nil
	}
	return memerrors.Validation("config", "validate", strings.Join(violations, "; "))
}
