package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manivault/mvcore/sdk"
)

func TestScanManifests_Formats(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a-yaml", "name: FromYAML\nversion: 1.0.0\ntype: data\n")

	for name, content := range map[string]string{
		"b-json": `{"name": "FromJSON", "version": "1.0.0", "type": "loader", "dependencies": ["FromYAML"]}`,
		"c-toml": "name = \"FromTOML\"\nversion = \"2.0.0\"\ntype = \"analysis\"\ndependencies = [\"FromYAML\"]\n",
	} {
		pluginDir := filepath.Join(dir, name)
		if err := os.MkdirAll(pluginDir, 0755); err != nil {
			t.Fatalf("Failed to create plugin dir: %v", err)
		}
		file := "manifest.json"
		if name == "c-toml" {
			file = "manifest.toml"
		}
		if err := os.WriteFile(filepath.Join(pluginDir, file), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write manifest: %v", err)
		}
	}
	// Directories without a manifest are not plugins
	if err := os.MkdirAll(filepath.Join(dir, "d-empty"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	metas, scanErrs, err := ScanManifests(dir)
	if err != nil {
		t.Fatalf("ScanManifests failed: %v", err)
	}
	if len(scanErrs) != 0 {
		t.Errorf("Expected no scan errors, got %+v", scanErrs)
	}
	if len(metas) != 3 {
		t.Fatalf("Expected 3 manifests, got %d", len(metas))
	}

	toml := metas[2]
	if toml.Kind != "FromTOML" || toml.Type != sdk.TypeAnalysis || toml.Version != "2.0.0" {
		t.Errorf("Unexpected TOML metadata: %+v", toml)
	}
	if len(toml.Dependencies) != 1 || toml.Dependencies[0] != "FromYAML" {
		t.Errorf("Expected the TOML dependency, got %v", toml.Dependencies)
	}
	if toml.Runtime != sdk.RuntimeBuiltin || toml.Dir != filepath.Join(dir, "c-toml") {
		t.Errorf("Expected defaults and dir to be filled in, got %+v", toml)
	}

	res := ResolveLoadOrder(metas)
	if got := res.Kinds(); len(got) != 3 || got[0] != "FromYAML" {
		t.Errorf("Expected FromYAML first, got %v", got)
	}
}

func TestScanManifests_MissingDir(t *testing.T) {
	metas, scanErrs, err := ScanManifests(filepath.Join(t.TempDir(), "none"))
	if err != nil || metas != nil || scanErrs != nil {
		t.Errorf("Expected nothing for a missing dir, got %v %v %v", metas, scanErrs, err)
	}
}
