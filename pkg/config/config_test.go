package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whpvr.json")
	data := `{
		"data_dir": "/var/lib/whpvr",
		"default_server_name": "Bedroom",
		"capability": {"model_name": "Gateway", "model_number": "OpenTV6"},
		"search_timeout": "15s",
		"peers_file": "peers.json"
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/whpvr", cfg.DataDir)
	assert.Equal(t, "Bedroom", cfg.DefaultServerName)
	assert.Equal(t, "OpenTV6", cfg.Capability.ModelNumber)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.SearchTimeout))
	assert.Equal(t, "peers.json", cfg.PeersFile)

	// Unset fields keep their defaults
	assert.Equal(t, 50, cfg.BrowsePageSize)
	assert.Equal(t, ":9108", cfg.MetricsAddress)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"Malformed JSON", `{`},
		{"Bad duration", `{"search_timeout": "soon"}`},
		{"Empty capability", `{"capability": {"model_name": ""}}`},
		{"Negative page size", `{"browse_page_size": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WHPVR_DATA_DIR", "/tmp/whpvr")
	t.Setenv("WHPVR_SEARCH_TIMEOUT", "2m")
	t.Setenv("WHPVR_BROWSE_PAGE_SIZE", "10")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/whpvr", cfg.DataDir)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.SearchTimeout))
	assert.Equal(t, 10, cfg.BrowsePageSize)
	assert.Equal(t, DefaultServerName, cfg.DefaultServerName)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Malformed search timeout", "WHPVR_SEARCH_TIMEOUT", "soon"},
		{"Negative search timeout", "WHPVR_SEARCH_TIMEOUT", "-5s"},
		{"Malformed page size", "WHPVR_BROWSE_PAGE_SIZE", "ten"},
		{"Negative page size", "WHPVR_BROWSE_PAGE_SIZE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := LoadFromEnv()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
