package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"whpvr/pkg/types"
)

const DefaultServerName = "Set-Top Box"

// MemoryDataDir keeps preferences in memory instead of on disk.
const MemoryDataDir = ":memory:"

type Config struct {
	DataDir           string           `json:"data_dir"`
	DefaultServerName string           `json:"default_server_name"`
	Capability        types.Capability `json:"capability"`
	SearchTimeout     Duration         `json:"search_timeout,omitempty"`
	BrowsePageSize    int              `json:"browse_page_size"`
	MetricsAddress    string           `json:"metrics_address"`
	HealthAddress     string           `json:"health_address"`
	PeersFile         string           `json:"peers_file,omitempty"`
}

// Duration reads "30s"-style strings from JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func Default() *Config {
	return &Config{
		DataDir:           "./data",
		DefaultServerName: DefaultServerName,
		Capability:        types.DefaultCapability,
		BrowsePageSize:    50,
		MetricsAddress:    ":9108",
		HealthAddress:     ":9109",
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a config from WHPVR_* variables on top of the
// defaults. Malformed numbers and durations are errors.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.DataDir = getEnv("WHPVR_DATA_DIR", cfg.DataDir)
	cfg.DefaultServerName = getEnv("WHPVR_SERVER_NAME", cfg.DefaultServerName)
	cfg.Capability.ModelName = getEnv("WHPVR_MODEL_NAME", cfg.Capability.ModelName)
	cfg.Capability.ModelNumber = getEnv("WHPVR_MODEL_NUMBER", cfg.Capability.ModelNumber)
	cfg.MetricsAddress = getEnv("WHPVR_METRICS_ADDRESS", cfg.MetricsAddress)
	cfg.HealthAddress = getEnv("WHPVR_HEALTH_ADDRESS", cfg.HealthAddress)
	cfg.PeersFile = getEnv("WHPVR_PEERS_FILE", cfg.PeersFile)

	if v := os.Getenv("WHPVR_SEARCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WHPVR_SEARCH_TIMEOUT %q: %w", v, err)
		}
		cfg.SearchTimeout = Duration(d)
	}
	if v := os.Getenv("WHPVR_BROWSE_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WHPVR_BROWSE_PAGE_SIZE %q: %w", v, err)
		}
		cfg.BrowsePageSize = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Capability.ModelName == "" || c.Capability.ModelNumber == "" {
		return fmt.Errorf("capability model name and number are required")
	}
	if c.BrowsePageSize < 0 {
		return fmt.Errorf("browse_page_size must not be negative, got %d", c.BrowsePageSize)
	}
	if c.SearchTimeout < 0 {
		return fmt.Errorf("search_timeout must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
