package config

import (
	"errors"
	"os"
	"path/filepath"
)

// ConfigDirEnv names the environment variable pointing at a config directory.
const ConfigDirEnv = "RELAYGW_CONFIG_DIR"

// ErrNoConfig is returned by DiscoverConfigPath when no location holds a config.
var ErrNoConfig = errors.New("no config found (checked: $" + ConfigDirEnv + ", ~/.config/relaygw, /etc/relaygw, ./config.yaml)")

// DiscoverConfigPath finds a config by checking standard locations in order:
// $RELAYGW_CONFIG_DIR, ~/.config/relaygw, /etc/relaygw, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		candidates = append(candidates, dir)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "relaygw"))
	}
	candidates = append(candidates, "/etc/relaygw", "./"+ConfigFileName)

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if info.IsDir() && !fileExists(filepath.Join(c, ConfigFileName)) {
			continue
		}
		return c, nil
	}
	return "", ErrNoConfig
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
