package config

import "time"

// Config represents the complete relaygw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Broker  BrokerConfig  `yaml:"broker"`
	Journal JournalConfig `yaml:"journal"`

	// SourcePath is the file the config was read from; empty for built-in defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines the HTTP listener.
type APIConfig struct {
	Listen string     `yaml:"listen"`
	CORS   CORSConfig `yaml:"cors"`
	// QueryRatePerMinute limits /api/query per worker credential. 0 disables.
	QueryRatePerMinute int           `yaml:"query_rate_per_minute"`
	Auth               APIAuthConfig `yaml:"auth"`
}

// CORSConfig restricts cross-origin callers. Empty allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// APIAuthConfig guards the admin endpoints. With neither field set the
// admin endpoints are not mounted.
type APIAuthConfig struct {
	// APIKey grants every admin scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// BrokerConfig tunes the relay.
type BrokerConfig struct {
	LivenessThreshold time.Duration `yaml:"liveness_threshold"`
	QueryTimeout      time.Duration `yaml:"query_timeout"`
	ResultTTL         time.Duration `yaml:"result_ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxQueueDepth     int           `yaml:"max_queue_depth"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// JournalConfig controls the sqlite request history.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// DefaultPort is used when neither the config nor $PORT names one.
const DefaultPort = "3000"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "relaygw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen: ":" + DefaultPort,
		},
		Broker: BrokerConfig{
			LivenessThreshold: 2 * time.Minute,
			QueryTimeout:      3 * time.Minute,
			ResultTTL:         3 * time.Minute,
			SweepInterval:     30 * time.Second,
			EventBuffer:       256,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "./data/relaygw.db",
			Retention: 7 * 24 * time.Hour,
		},
	}
}
