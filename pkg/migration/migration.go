// Package migration implements spec §4.10's idempotent schema migration:
// ensure_schema_version(workspace), a chain of v_i -> v_{i+1} upgrade
// functions, and atomic replace-on-rename writes. Grounded on
// pkg/positions/checkpoint_manager.go's temp-file-then-rename
// write discipline (write to "<file>.tmp", fsync/close, os.Rename over
// the target) and pkg/hotreload/config_reloader.go's use of fsnotify to
// watch a config file for external edits.
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	memerrors "mem-os/pkg/errors"
)

// CurrentVersion is spec §4.10's "Current version 2.1.0".
const CurrentVersion = "2.1.0"

// Document is the generic shape ensure_schema_version operates over: an
// arbitrary config/state JSON document plus its declared schema_version.
// mem-os.json and memory/intel-state.json both use this shape.
type Document map[string]interface{}

// SchemaVersion reads the schema_version key, defaulting to "1.0.0" for
// documents predating the field's introduction (the pre-versioning
// baseline every upgrade chain starts from).
func (d Document) SchemaVersion() string {
	if v, ok := d["schema_version"].(string); ok && v != "" {
		return v
	}
	return "1.0.0"
}

// Upgrade is one v_i -> v_{i+1} migration step. Apply may modify the
// document in place. EnsureSchemaVersion runs a step only on a document
// whose version equals From, which is what keeps repeated calls against
// the same file idempotent; the steps themselves do not check the
// version.
type Upgrade struct {
	From, To string
	Apply    func(Document) Document
}

// Chain is the ordered sequence of upgrades from the baseline to
// CurrentVersion. Registered in order; ensure_schema_version walks it
// starting from the document's declared version.
var Chain = []Upgrade{
	{From: "1.0.0", To: "2.0.0", Apply: upgrade100to200},
	{From: "2.0.0", To: "2.1.0", Apply: upgrade200to210},
}

// upgrade100to200 is a placeholder structural bump with no field-level
// change recorded for this transition; kept as a chain link so 1.0.0 documents
// still reach 2.1.0 through the same two-step path as any other old
// document, rather than needing a special-cased direct jump.
func upgrade100to200(d Document) Document {
	d["schema_version"] = "2.0.0"
	return d
}

// upgrade200to210 is spec §4.10's reference case: rename
// self_correcting_mode -> governance_mode. The old value is retained
// under "_deprecated_self_correcting_mode"; RemoveDeprecated deletes
// that key. EnsureSchemaVersion does not call RemoveDeprecated, so the
// retained key stays in the document until a caller runs it.
func upgrade200to210(d Document) Document {
	if v, ok := d["self_correcting_mode"]; ok {
		if _, already := d["governance_mode"]; !already {
			d["governance_mode"] = v
		}
		d["_deprecated_self_correcting_mode"] = v
		delete(d, "self_correcting_mode")
	}
	d["schema_version"] = "2.1.0"
	return d
}

// RemoveDeprecated physically deletes any "_deprecated_*" key, the
// second half of the one-cycle retention spec §4.10 requires ("Old keys
// are retained in memory for one migration cycle, then physically
// removed"). Call this on a document that has already been through
// EnsureSchemaVersion at least once.
func RemoveDeprecated(d Document) Document {
	for k := range d {
		if len(k) > len("_deprecated_") && k[:len("_deprecated_")] == "_deprecated_" {
			delete(d, k)
		}
	}
	return d
}

// versionRank allows ordering Chain entries without a semver library:
// every version in Chain is x.y.z with single-digit components, which
// every real migration so far satisfies.
func versionRank(v string) [3]int {
	var r [3]int
	fmt.Sscanf(v, "%d.%d.%d", &r[0], &r[1], &r[2])
	return r
}

func lessVersion(a, b string) bool {
	ra, rb := versionRank(a), versionRank(b)
	for i := 0; i < 3; i++ {
		if ra[i] != rb[i] {
			return ra[i] < rb[i]
		}
	}
	return false
}

// EnsureSchemaVersion walks Chain from the document's declared version,
// applying each upgrade whose From matches the document's current
// version, until no further upgrade applies. Idempotent: a document
// already at CurrentVersion (or any version with no matching upgrade)
// is returned unchanged.
func EnsureSchemaVersion(d Document) Document {
	sorted := append([]Upgrade(nil), Chain...)
	sort.Slice(sorted, func(i, j int) bool { return lessVersion(sorted[i].From, sorted[j].From) })

	for {
		applied := false
		for _, up := range sorted {
			if d.SchemaVersion() == up.From {
				d = up.Apply(d)
				applied = true
				break
			}
		}
		if !applied {
			return d
		}
	}
}

// LoadAndMigrate reads a JSON document from path, runs EnsureSchemaVersion,
// and if the version changed, writes it back atomically (replace-on-
// rename). Returns the migrated document either way.
func LoadAndMigrate(path string, logger *logrus.Logger) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, memerrors.IO("migration", "load", "reading "+path).Wrap(err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, memerrors.Parse("migration", "load", "parsing "+path).Wrap(err)
	}

	before := doc.SchemaVersion()
	migrated := EnsureSchemaVersion(doc)
	after := migrated.SchemaVersion()

	if before != after {
		if err := WriteAtomic(path, migrated); err != nil {
			return nil, err
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{"path": path, "from": before, "to": after}).
				Info("schema migration applied")
		}
	}
	return migrated, nil
}

// WriteAtomic marshals doc and writes it to path via temp-file-then-
// rename, the reference checkpoint-manager write discipline. Exported
// so callers outside this package (e.g. internal/config, after an
// operator-driven mode transition) can rewrite a workspace document
// with the same durability guarantee migration itself relies on.
func WriteAtomic(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return memerrors.IO("migration", "write", "marshaling "+path).Wrap(err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return memerrors.IO("migration", "write", "creating temp file for "+path).Wrap(err)
	}
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return memerrors.IO("migration", "write", "writing temp file for "+path).Wrap(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return memerrors.IO("migration", "write", "fsyncing temp file for "+path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return memerrors.IO("migration", "write", "closing temp file for "+path).Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return memerrors.IO("migration", "write", "renaming temp file onto "+path).Wrap(err)
	}
	return nil
}

// Watcher watches the workspace config file for external edits and
// revalidates its schema version on change (spec §4.10 doesn't require
// hot-apply of config changes, only that schema migration run whenever
// the file is touched — so Watcher re-runs LoadAndMigrate on each write
// event rather than diffing and applying partial config changes live).
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *logrus.Logger
	path    string
}

// WatchConfig starts watching path for write events. Callers should
// range over Watcher.Events() and call LoadAndMigrate(path, logger) on
// each fsnotify.Write event; Close stops the watch.
func WatchConfig(path string, logger *logrus.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, memerrors.IO("migration", "watch", "creating file watcher").Wrap(err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, memerrors.IO("migration", "watch", "watching "+filepath.Dir(path)).Wrap(err)
	}
	return &Watcher{watcher: w, logger: logger, path: path}, nil
}

// Events exposes the underlying fsnotify event channel, filtered by the
// caller for events on Watcher's configured path.
func (w *Watcher) Events() <-chan fsnotify.Event { return w.watcher.Events }

// Errors exposes the underlying fsnotify error channel.
func (w *Watcher) Errors() <-chan error { return w.watcher.Errors }

// Path returns the file this watcher was configured for.
func (w *Watcher) Path() string { return w.path }

// Close stops the watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }
