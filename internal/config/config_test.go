package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
version: "1.0"
system:
  name: "Test Core"
  data_path: "/srv/mv"
  logging:
    level: debug
api:
  port: 9090
  cors_origins: ["http://localhost:3000"]
event_bus:
  enabled: true
plugins:
  Mean:
    config:
      precision: 4
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.System.Name != "Test Core" {
		t.Errorf("Expected name 'Test Core', got '%s'", cfg.System.Name)
	}
	if cfg.System.PluginsDir != "/srv/mv/plugins" {
		t.Errorf("Expected plugins dir under data path, got '%s'", cfg.System.PluginsDir)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("Expected api port 9090, got %d", cfg.API.Port)
	}
	if len(cfg.API.CORSOrigins) != 1 {
		t.Errorf("Expected 1 CORS origin, got %d", len(cfg.API.CORSOrigins))
	}
	if !cfg.EventBus.Enabled || cfg.EventBus.Port != 4222 {
		t.Errorf("Expected enabled event bus on 4222, got %+v", cfg.EventBus)
	}
	if cfg.Projects.DatabasePath != "/srv/mv/manivault.db" {
		t.Errorf("Expected database under data path, got '%s'", cfg.Projects.DatabasePath)
	}
	if got := cfg.PluginRuntimeConfig("Mean")["precision"]; got != 4 {
		t.Errorf("Expected precision 4, got %v", got)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := LoadOrDefault(configPath)
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got %v", err)
	}
	if cfg.GetPath() != configPath {
		t.Errorf("Expected path '%s', got '%s'", configPath, cfg.GetPath())
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.API.Port)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := Default()
	cfg.System.Name = "Saved Core"
	cfg.SetPath(configPath)

	if err := cfg.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if loaded.System.Name != "Saved Core" {
		t.Errorf("Expected name 'Saved Core', got '%s'", loaded.System.Name)
	}

	if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be renamed away")
	}
}

func TestSaveWithoutPath(t *testing.T) {
	cfg := Default()
	if err := cfg.Save(); err == nil {
		t.Error("Expected error when saving without a path")
	}
}

func TestOnChange(t *testing.T) {
	cfg := &Config{}

	callCount := 0
	cfg.OnChange(func(c *Config) {
		callCount++
	})

	if len(cfg.watchers) != 1 {
		t.Errorf("Expected 1 watcher, got %d", len(cfg.watchers))
	}
}

func TestReloadNotifiesWatchers(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("system:\n  name: before\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	var seen string
	cfg.OnChange(func(c *Config) { seen = c.System.Name })

	if err := os.WriteFile(configPath, []byte("system:\n  name: after\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite test config: %v", err)
	}
	cfg.reload()

	if seen != "after" {
		t.Errorf("Expected watcher to see 'after', got '%s'", seen)
	}
}

func TestPluginEnabled(t *testing.T) {
	cfg := &Config{Plugins: PluginsConfig{
		"Scatterplot": {Disabled: true},
		"Mean":        {Config: map[string]interface{}{"x": 1}},
	}}

	if cfg.PluginEnabled("Scatterplot") {
		t.Error("Expected Scatterplot to be disabled")
	}
	if !cfg.PluginEnabled("Mean") {
		t.Error("Expected Mean to be enabled")
	}
	if !cfg.PluginEnabled("Unknown") {
		t.Error("Expected plugins without config to be enabled")
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()

	if cfg.Version != "1.0" {
		t.Errorf("Expected default version '1.0', got '%s'", cfg.Version)
	}
	if cfg.System.DataPath != "/data" {
		t.Errorf("Expected default data path '/data', got '%s'", cfg.System.DataPath)
	}
	if cfg.System.PluginsDir != "/data/plugins" {
		t.Errorf("Expected default plugins dir '/data/plugins', got '%s'", cfg.System.PluginsDir)
	}
	if cfg.System.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.System.Logging.Level)
	}
	if cfg.API.Address() != "0.0.0.0:8080" {
		t.Errorf("Expected default address '0.0.0.0:8080', got '%s'", cfg.API.Address())
	}
}

func TestSetDefaultsDoesNotOverwrite(t *testing.T) {
	cfg := &Config{
		Version: "2.0",
		System: SystemConfig{
			DataPath:   "/custom/path",
			PluginsDir: "/opt/plugins",
			Logging:    LoggingConfig{Level: "debug"},
		},
		API: APIConfig{Port: 9000},
	}
	cfg.setDefaults()

	if cfg.Version != "2.0" {
		t.Errorf("Version was overwritten, got '%s'", cfg.Version)
	}
	if cfg.System.PluginsDir != "/opt/plugins" {
		t.Errorf("PluginsDir was overwritten, got '%s'", cfg.System.PluginsDir)
	}
	if cfg.System.Logging.Level != "debug" {
		t.Errorf("Logging level was overwritten, got '%s'", cfg.System.Logging.Level)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API port was overwritten, got %d", cfg.API.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MV_DATA_PATH", "/env/data")
	t.Setenv("MV_PLUGINS_DIR", "/env/plugins")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg := Default()
	if cfg.System.DataPath != "/env/data" {
		t.Errorf("Expected data path from env, got '%s'", cfg.System.DataPath)
	}
	if cfg.System.PluginsDir != "/env/plugins" {
		t.Errorf("Expected plugins dir from env, got '%s'", cfg.System.PluginsDir)
	}
	if cfg.System.Logging.Level != "warn" {
		t.Errorf("Expected level 'warn', got '%s'", cfg.System.Logging.Level)
	}
	if cfg.Projects.DatabasePath != "/env/data/manivault.db" {
		t.Errorf("Expected database under env data path, got '%s'", cfg.Projects.DatabasePath)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
version: "1.0"
  bad indentation
plugins: {}
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error when loading invalid YAML")
	}
}

func TestGetPath(t *testing.T) {
	cfg := &Config{}
	cfg.SetPath("/custom/path/config.yaml")

	if path := cfg.GetPath(); path != "/custom/path/config.yaml" {
		t.Errorf("Expected path '/custom/path/config.yaml', got '%s'", path)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := []byte("12345678901234567890123456789012")
	plaintext := "secret token"

	encrypted, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}
	if encrypted == plaintext {
		t.Error("Encrypted text should not equal plaintext")
	}

	decrypted, err := decrypt(key, encrypted)
	if err != nil {
		t.Fatalf("Decryption failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Expected decrypted '%s', got '%s'", plaintext, decrypted)
	}
}

func TestDecryptInvalidData(t *testing.T) {
	key := []byte("12345678901234567890123456789012")

	if _, err := decrypt(key, "not-valid-base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if _, err := decrypt(key, "YWJj"); err == nil {
		t.Error("Expected error for too short ciphertext")
	}
}

func TestGetEncryptionKey(t *testing.T) {
	t.Setenv("MV_ENCRYPTION_KEY", "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	if key := getEncryptionKey(); len(key) != 32 || key[1] != 1 {
		t.Errorf("Expected the key from the environment, got %v", key)
	}

	t.Setenv("MV_ENCRYPTION_KEY", "dGVzdA==")
	if key := getEncryptionKey(); len(key) != 32 {
		t.Errorf("Expected 32-byte default key, got %d bytes", len(key))
	}

	t.Setenv("MV_ENCRYPTION_KEY", "")
	if key := getEncryptionKey(); len(key) != 32 {
		t.Errorf("Expected 32-byte default key, got %d bytes", len(key))
	}
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.SetPath(configPath)
	if err := cfg.SetPluginConfig("CsvLoader", PluginConfig{
		Config:  map[string]interface{}{"delimiter": ";"},
		Secrets: map[string]string{"token": "hunter2"},
	}); err != nil {
		t.Fatalf("Failed to save plugin config: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}
	if !strings.Contains(string(data), "# ManiVault Core Configuration") {
		t.Error("Saved config should contain header comment")
	}
	if strings.Contains(string(data), "hunter2") || !strings.Contains(string(data), "encrypted:") {
		t.Error("Secret should be encrypted in saved config")
	}

	// The in-memory copy stays usable
	if got := cfg.PluginRuntimeConfig("CsvLoader")["token"]; got != "hunter2" {
		t.Errorf("Expected in-memory secret 'hunter2', got %v", got)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	rc := loaded.PluginRuntimeConfig("CsvLoader")
	if rc["token"] != "hunter2" || rc["delimiter"] != ";" {
		t.Errorf("Expected decrypted secret and config, got %v", rc)
	}
}

func TestSetDataPath(t *testing.T) {
	cfg := Default()
	cfg.SetDataPath("/srv/mv")

	if cfg.Projects.DatabasePath != filepath.Join("/srv/mv", "manivault.db") {
		t.Errorf("Expected database under new data path, got '%s'", cfg.Projects.DatabasePath)
	}
	if cfg.Projects.Directory != filepath.Join("/srv/mv", "projects") {
		t.Errorf("Expected projects under new data path, got '%s'", cfg.Projects.Directory)
	}
	if !cfg.API.Enabled {
		t.Error("Expected the API to be enabled by default")
	}
}
