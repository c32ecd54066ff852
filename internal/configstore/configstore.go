// Package configstore loads Echotome's user configuration file, a small
// YAML document describing where vault data lives and how session
// cleanup behaves.
package configstore

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	echoerr "echotome/internal/errors"
)

// Config is Echotome's on-disk user configuration.
type Config struct {
	DataRoot        string        `yaml:"data_root"`
	DefaultProfile  string        `yaml:"default_profile"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// defaults returns the configuration used when no config file exists
// yet, rooted under the user's home directory.
func defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataRoot:        filepath.Join(home, ".echotome"),
		DefaultProfile:  "RitualLock",
		CleanupInterval: 30 * time.Second,
	}
}

// yamlDoc mirrors Config but with a plain string for CleanupInterval,
// since yaml.v3 doesn't natively round-trip time.Duration through a
// human-readable value like "30s".
type yamlDoc struct {
	DataRoot        string `yaml:"data_root"`
	DefaultProfile  string `yaml:"default_profile"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

// Load reads path, falling back to documented defaults for any field
// the file omits, and defaults() entirely if the file doesn't exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, echoerr.NewFileError("read", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, echoerr.NewFileError("unmarshal", path, err)
	}

	if doc.DataRoot != "" {
		cfg.DataRoot = doc.DataRoot
	}
	if doc.DefaultProfile != "" {
		cfg.DefaultProfile = doc.DefaultProfile
	}
	if doc.CleanupInterval != "" {
		d, err := time.ParseDuration(doc.CleanupInterval)
		if err != nil {
			return Config{}, echoerr.NewFileError("parse-cleanup-interval", path, err)
		}
		cfg.CleanupInterval = d
	}
	return cfg, nil
}

// Save atomically writes cfg to path.
func Save(cfg Config, path string) error {
	doc := yamlDoc{
		DataRoot:       cfg.DataRoot,
		DefaultProfile: cfg.DefaultProfile,
	}
	if cfg.CleanupInterval != 0 {
		doc.CleanupInterval = cfg.CleanupInterval.String()
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return echoerr.NewFileError("marshal", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return echoerr.NewFileError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return echoerr.NewFileError("create-temp", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return echoerr.NewFileError("write", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return echoerr.NewFileError("close", tmpPath, err)
	}
	return echoerr.Wrap(os.Rename(tmpPath, path), "rename config into place")
}

// DefaultConfigPath returns the conventional config file location,
// "~/.echotome/config.yaml".
func DefaultConfigPath() string {
	return filepath.Join(defaults().DataRoot, "config.yaml")
}
