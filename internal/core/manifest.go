package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/manivault/mvcore/sdk"
)

// manifestNames are tried in order inside each plugin directory
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json", "manifest.toml"}

// ScanError is a plugin directory whose manifest could not be used
type ScanError struct {
	Dir string
	Err error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dir, e.Err)
}

// ScanManifests reads the manifest of every subdirectory of dir. Directories
// without a manifest are ignored; unreadable or invalid manifests are
// returned as scan errors. A missing dir yields nothing.
func ScanManifests(dir string) ([]sdk.Metadata, []ScanError, error) {
	if dir == "" {
		return nil, nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var metas []sdk.Metadata
	var scanErrs []ScanError
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		m, found, err := ReadManifest(pluginDir)
		if !found {
			continue
		}
		if err != nil {
			scanErrs = append(scanErrs, ScanError{Dir: pluginDir, Err: err})
			continue
		}
		metas = append(metas, m)
	}
	return metas, scanErrs, nil
}

// ReadManifest parses the manifest in pluginDir. found is false when the
// directory has none.
func ReadManifest(pluginDir string) (m sdk.Metadata, found bool, err error) {
	for _, name := range manifestNames {
		path := filepath.Join(pluginDir, name)
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue
			}
			return m, true, readErr
		}

		switch filepath.Ext(name) {
		case ".json":
			err = json.Unmarshal(raw, &m)
		case ".toml":
			err = toml.Unmarshal(raw, &m)
		default:
			err = yaml.Unmarshal(raw, &m)
		}
		if err != nil {
			return m, true, fmt.Errorf("invalid %s: %w", name, err)
		}
		if err := m.Validate(); err != nil {
			return m, true, err
		}
		m.Dir = pluginDir
		return m, true, nil
	}
	return m, false, nil
}
