// Package config provides configuration management for the ManiVault core
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the core configuration
type Config struct {
	Version  string         `yaml:"version"`
	System   SystemConfig   `yaml:"system"`
	API      APIConfig      `yaml:"api"`
	EventBus EventBusConfig `yaml:"event_bus"`
	Projects ProjectsConfig `yaml:"projects"`
	Plugins  PluginsConfig  `yaml:"plugins"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name       string        `yaml:"name"`
	DataPath   string        `yaml:"data_path"`
	PluginsDir string        `yaml:"plugins_dir"`
	WatchDir   bool          `yaml:"watch_plugins"`
	Logging    LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Messages is how many user-facing messages are kept
	Messages int `yaml:"messages"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Address returns host:port
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// EventBusConfig holds settings of the embedded NATS mirror
type EventBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JetStream bool   `yaml:"jetstream"`
}

// ProjectsConfig holds project persistence settings
type ProjectsConfig struct {
	DatabasePath string `yaml:"database_path"`
	Directory    string `yaml:"directory"`
	// AutosaveMinutes saves the current project periodically; 0 disables
	AutosaveMinutes int `yaml:"autosave_minutes"`
}

// PluginsConfig holds plugin configurations by kind
type PluginsConfig map[string]PluginConfig

// PluginConfig holds a single plugin's configuration. Secrets are stored
// encrypted and handed to the plugin decrypted, merged into Config.
type PluginConfig struct {
	Disabled bool                   `yaml:"disabled,omitempty"`
	Config   map[string]interface{} `yaml:"config,omitempty"`
	Secrets  map[string]string      `yaml:"secrets,omitempty"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{encKey: getEncryptionKey()}
	cfg.API.Enabled = true
	cfg.setDefaults()
	cfg.applyEnv()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// LoadOrDefault loads path, or returns the defaults bound to path when the
// file does not exist yet
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.path = path
		return cfg, nil
	}
	return Load(path)
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}

	cfgCopy := &Config{
		Version:  c.Version,
		System:   c.System,
		API:      c.API,
		EventBus: c.EventBus,
		Projects: c.Projects,
		Plugins:  c.Plugins.clone(),
		path:     c.path,
		encKey:   c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# ManiVault Core Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.GetPath())
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.API = newCfg.API
	c.EventBus = newCfg.EventBus
	c.Projects = newCfg.Projects
	c.Plugins = newCfg.Plugins
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// PluginEnabled reports whether kind may be loaded. Plugins without an
// entry are enabled.
func (c *Config) PluginEnabled(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.Plugins[kind].Disabled
}

// PluginRuntimeConfig returns the configuration handed to plugins of kind:
// the config map with decrypted secrets merged in
func (c *Config) PluginRuntimeConfig(kind string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pc := c.Plugins[kind]
	out := make(map[string]interface{}, len(pc.Config)+len(pc.Secrets))
	for k, v := range pc.Config {
		out[k] = v
	}
	for k, v := range pc.Secrets {
		out[k] = v
	}
	return out
}

// SetPluginConfig replaces the config of kind and saves
func (c *Config) SetPluginConfig(kind string, pc PluginConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Plugins == nil {
		c.Plugins = make(PluginsConfig)
	}
	c.Plugins[kind] = pc
	return c.saveUnlocked()
}

func (p PluginsConfig) clone() PluginsConfig {
	if p == nil {
		return nil
	}
	out := make(PluginsConfig, len(p))
	for kind, pc := range p {
		secrets := make(map[string]string, len(pc.Secrets))
		for k, v := range pc.Secrets {
			secrets[k] = v
		}
		pc.Secrets = secrets
		out[kind] = pc
	}
	return out
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "ManiVault"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "/data"
	}
	if c.System.PluginsDir == "" {
		c.System.PluginsDir = filepath.Join(c.System.DataPath, "plugins")
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.System.Logging.Messages <= 0 {
		c.System.Logging.Messages = 500
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.EventBus.Host == "" {
		c.EventBus.Host = "127.0.0.1"
	}
	if c.EventBus.Port == 0 {
		c.EventBus.Port = 4222
	}
	if c.Projects.DatabasePath == "" {
		c.Projects.DatabasePath = filepath.Join(c.System.DataPath, "manivault.db")
	}
	if c.Projects.Directory == "" {
		c.Projects.Directory = filepath.Join(c.System.DataPath, "projects")
	}
}

// SetDataPath moves the data directory and the project paths derived from it
func (c *Config) SetDataPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.DataPath = path
	c.Projects.DatabasePath = filepath.Join(path, "manivault.db")
	c.Projects.Directory = filepath.Join(path, "projects")
}

// applyEnv applies environment overrides
func (c *Config) applyEnv() {
	if v := os.Getenv("MV_DATA_PATH"); v != "" {
		c.System.DataPath = v
		c.Projects.DatabasePath = filepath.Join(v, "manivault.db")
		c.Projects.Directory = filepath.Join(v, "projects")
	}
	if v := os.Getenv("MV_PLUGINS_DIR"); v != "" {
		c.System.PluginsDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.System.Logging.Level = strings.ToLower(v)
	}
}

// encryptSecrets encrypts plugin secrets
func (c *Config) encryptSecrets() error {
	for kind, pc := range c.Plugins {
		for k, v := range pc.Secrets {
			if v == "" || strings.HasPrefix(v, "encrypted:") {
				continue
			}
			encrypted, err := encrypt(c.encKey, v)
			if err != nil {
				return fmt.Errorf("plugin %s secret %s: %w", kind, k, err)
			}
			pc.Secrets[k] = "encrypted:" + encrypted
		}
	}
	return nil
}

// decryptSecrets decrypts plugin secrets
func (c *Config) decryptSecrets() error {
	for kind, pc := range c.Plugins {
		for k, v := range pc.Secrets {
			if !strings.HasPrefix(v, "encrypted:") {
				continue
			}
			decrypted, err := decrypt(c.encKey, strings.TrimPrefix(v, "encrypted:"))
			if err != nil {
				return fmt.Errorf("plugin %s secret %s: %w", kind, k, err)
			}
			pc.Secrets[k] = decrypted
		}
	}
	return nil
}

// getEncryptionKey returns the encryption key from environment or the
// built-in default
func getEncryptionKey() []byte {
	keyStr := os.Getenv("MV_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}

	// Must be exactly 32 bytes for AES-256
	return []byte("manivault-default-key-change-it!")
}

// encrypt encrypts a string using AES-GCM
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string using AES-GCM
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
