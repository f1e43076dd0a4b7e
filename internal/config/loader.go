package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up inside a config directory.
const ConfigFileName = "config.yaml"

// DotEnvFileName holds secrets referenced as ${VAR} from the config.
const DotEnvFileName = ".env"

// Load reads, verifies and validates the config at configPath, which may be
// a file or a directory holding config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the explicit path when given, otherwise the first
// discovered config, otherwise the built-in defaults.
func LoadOrDefault(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, err := DiscoverConfigPath()
	if errors.Is(err, ErrNoConfig) {
		cfg := Defaults()
		if err := finish(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// loadDotEnv reads a .env file next to the config into the process
// environment. Variables already set win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, DotEnvFileName)
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ResolveConfigFile returns the absolute config file for a file or directory path.
func ResolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

// parse decodes YAML over the defaults, so omitted keys keep their default.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	applyConfigDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyConfigDefaults fills fields that were explicitly zeroed or left empty.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Broker.LivenessThreshold == 0 {
		cfg.Broker.LivenessThreshold = defaults.Broker.LivenessThreshold
	}
	if cfg.Broker.QueryTimeout == 0 {
		cfg.Broker.QueryTimeout = defaults.Broker.QueryTimeout
	}
	if cfg.Broker.ResultTTL == 0 {
		cfg.Broker.ResultTTL = cfg.Broker.QueryTimeout
	}
	if cfg.Broker.SweepInterval == 0 {
		cfg.Broker.SweepInterval = defaults.Broker.SweepInterval
	}
	if cfg.Broker.EventBuffer == 0 {
		cfg.Broker.EventBuffer = defaults.Broker.EventBuffer
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
}

// applyEnvOverrides lets $PORT replace the port of api.listen.
func applyEnvOverrides(cfg *Config) error {
	port, ok := os.LookupEnv("PORT")
	if !ok || port == "" {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("PORT must be a port number (got %q)", port)
	}
	host, _, err := net.SplitHostPort(cfg.API.Listen)
	if err != nil {
		host = ""
	}
	cfg.API.Listen = net.JoinHostPort(host, port)
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err)
	}
	if cfg.API.QueryRatePerMinute < 0 {
		return fmt.Errorf("api.query_rate_per_minute must not be negative")
	}
	if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
		return err
	}
	for i, tok := range cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
	}

	b := cfg.Broker
	if b.LivenessThreshold < 0 || b.QueryTimeout < 0 || b.ResultTTL < 0 || b.SweepInterval < 0 {
		return fmt.Errorf("broker durations must be positive")
	}
	if b.MaxQueueDepth < 0 {
		return fmt.Errorf("broker.max_queue_depth must not be negative")
	}
	if b.EventBuffer < 0 {
		return fmt.Errorf("broker.event_buffer must not be negative")
	}

	if cfg.Journal.Enabled && cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}
	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
