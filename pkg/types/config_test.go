package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfigValid tests the defaults pass validation
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "bolt", cfg.Storage.Type)
}

// TestLoadConfigFile tests YAML values override defaults
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
poll_interval: 15s
upstream:
  base_url: "http://stats.internal:8000"
  followers_endpoint: "/followers"
  subscribers_endpoint: "/subscribers"
  gift_subs_endpoint: "/gift-subs"
  timeout: 5s
  excluded_users:
    - streambot
storage:
  type: postgres
  url: "postgres://tally@localhost/tally"
  schema: giveaway
log:
  level: debug
  json: true
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, "http://stats.internal:8000", cfg.Upstream.BaseURL)
	assert.Equal(t, []string{"streambot"}, cfg.Upstream.ExcludedUsers)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "giveaway", cfg.Storage.Schema)
	assert.True(t, cfg.Log.JSON)
}

// TestLoadConfigValidation tests invalid configs are rejected
func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad storage type",
			yaml: "storage:\n  type: redis\n",
		},
		{
			name: "postgres without url",
			yaml: "storage:\n  type: postgres\n  path: \"\"\n",
		},
		{
			name: "endpoint missing leading slash",
			yaml: "upstream:\n  followers_endpoint: followers\n",
		},
		{
			name: "sub-second poll interval",
			yaml: "poll_interval: 100ms\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tally.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

// TestLoadConfigMissingFile tests a bad path errors
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}

// TestNormalizeUsername tests identity normalization
func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Alice", "alice"},
		{"  BOB  ", "bob"},
		{"carol", "carol"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeUsername(tt.in))
	}
}

// TestEntriesUsernames tests the sorted key view
func TestEntriesUsernames(t *testing.T) {
	entries := Entries{"carol": 1, "alice": 5, "bob": 2}
	assert.Equal(t, []string{"alice", "bob", "carol"}, entries.Usernames())
}
