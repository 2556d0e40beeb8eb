package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	memerrors "mem-os/pkg/errors"
)

const manifestFile = "manifest.json"

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return memerrors.IO("snapshot", "capture", "failed marshaling manifest").Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0644); err != nil {
		return memerrors.IO("snapshot", "capture", "failed writing manifest").Wrap(err)
	}
	return nil
}

func readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, memerrors.IO("snapshot", "restore", "failed reading manifest").Wrap(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, memerrors.IO("snapshot", "restore", "failed unmarshaling manifest").Wrap(err)
	}
	return m, nil
}
